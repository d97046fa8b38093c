package reports

import (
	"bitbucket.org/mmdatafocus/audit_backend/models"
	"github.com/shopspring/decimal"
)

// balanceTolerance is one whole currency unit of rounding slack for the
// Assets = Liabilities + Equity check.
var balanceTolerance = decimal.NewFromInt(1)

// RetainedEarnings is the roll-forward: the brought-forward balance from the
// Equity > Equity > "Retained earnings" leaf plus the current year's net
// result. Dividends and prior-period adjustments are not modeled here.
type RetainedEarnings struct {
	PriorValue   decimal.Decimal `json:"prior_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
}

// BuildRetainedEarnings reads the brought-forward value from the tree and
// rolls the current-year income statement's net result onto it.
func BuildRetainedEarnings(tree *LeadSheetTree, current *IncomeStatement) *RetainedEarnings {
	priorValue := decimal.Zero
	group := tree.Family(models.Grouping1Equity).
		Branch(models.GroupingEquityReserves).
		Group(models.GroupRetainedEarnings)
	if group != nil {
		priorValue = group.Totals.PriorYear
	}
	return &RetainedEarnings{
		PriorValue:   priorValue,
		CurrentValue: priorValue.Add(current.NetResult),
	}
}

// BalanceSheetSide is one year's column.
type BalanceSheetSide struct {
	Assets                    decimal.Decimal `json:"assets"`
	Liabilities               decimal.Decimal `json:"liabilities"`
	Equity                    decimal.Decimal `json:"equity"`
	RetainedEarnings          decimal.Decimal `json:"retained_earnings"`
	TotalEquityAndLiabilities decimal.Decimal `json:"total_equity_and_liabilities"`
	Balanced                  bool            `json:"balanced"`
}

type BalanceSheet struct {
	CurrentYear BalanceSheetSide `json:"current_year"`
	PriorYear   BalanceSheetSide `json:"prior_year"`
}

// BuildBalanceSheet sums the three families for both years. The equity sum
// excludes the "Current Year Profits & Losses" branch and the
// "Retained earnings" leaf, then adds back the roll-forward value, so the
// year's result enters equity exactly once. An out-of-tolerance sheet is
// reported as balanced=false, never as an error.
func BuildBalanceSheet(tree *LeadSheetTree, retained *RetainedEarnings) *BalanceSheet {
	side := func(year StatementYear, retainedValue decimal.Decimal) BalanceSheetSide {
		assets := sumFamily(tree.Family(models.Grouping1Assets), year, nil)
		liabilities := sumFamily(tree.Family(models.Grouping1Liabilities), year, nil)
		equity := sumFamily(tree.Family(models.Grouping1Equity), year, func(branch *LeadSheetBranch, group *LeadSheetGroup) bool {
			if branch.Name == models.GroupingCurrentYearPL {
				return true
			}
			return group.Group == models.GroupRetainedEarnings
		})
		equity = equity.Add(retainedValue)

		// Normalized values are contributions to equity, so liabilities and
		// equity carry the opposite sign of assets here.
		total := equity.Add(liabilities)
		diff := assets.Add(total).Abs()
		return BalanceSheetSide{
			Assets:                    assets,
			Liabilities:               liabilities,
			Equity:                    equity,
			RetainedEarnings:          retainedValue,
			TotalEquityAndLiabilities: total,
			Balanced:                  diff.LessThan(balanceTolerance),
		}
	}

	return &BalanceSheet{
		CurrentYear: side(YearCurrent, retained.CurrentValue),
		PriorYear:   side(YearPrior, retained.PriorValue),
	}
}

// sumFamily totals one family's groups for a year, skipping groups the
// exclude predicate flags.
func sumFamily(family *LeadSheetFamily, year StatementYear, exclude func(*LeadSheetBranch, *LeadSheetGroup) bool) decimal.Decimal {
	sum := decimal.Zero
	if family == nil {
		return sum
	}
	for _, branch := range family.Branches {
		for _, group := range branch.Groups {
			if exclude != nil && exclude(branch, group) {
				continue
			}
			sum = sum.Add(group.Totals.ValueFor(year))
		}
	}
	return sum
}
