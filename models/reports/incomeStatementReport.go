package reports

import (
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/audit_backend/models"
	"github.com/shopspring/decimal"
)

// StatementYear selects which row field a derivation reads: finalBalance for
// the current year, priorYear for the prior year.
type StatementYear string

const (
	YearCurrent StatementYear = "current_year"
	YearPrior   StatementYear = "prior_year"
)

func ParseStatementYear(s string) (StatementYear, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current", "current_year":
		return YearCurrent, nil
	case "prior", "prior_year":
		return YearPrior, nil
	}
	return "", errors.New("invalid statement year")
}

func (t LeadSheetTotals) ValueFor(year StatementYear) decimal.Decimal {
	if year == YearPrior {
		return t.PriorYear
	}
	return t.FinalBalance
}

// Income-statement captions. These are the grouping3 names the derivation
// keys on under Equity > "Current Year Profits & Losses".
const (
	CaptionRevenue           = "Revenue"
	CaptionCostOfSales       = "Cost of sales"
	CaptionSalesAndMarketing = "Sales & marketing costs"
	CaptionAdministrative    = "Administrative expenses"
	CaptionOtherOperating    = "Other operating income"
	CaptionInvestmentIncome  = "Investment income"
	CaptionInvestmentLosses  = "Investment losses"
	CaptionFinanceCosts      = "Finance costs"
	CaptionShareOfSubsidiary = "Share of profit of subsidiary"
	CaptionPBTExpenses       = "PBT expenses"
	CaptionIncomeTaxExpense  = "Income tax expense"
)

const (
	ResultTypeNetProfit = "net_profit"
	ResultTypeNetLoss   = "net_loss"
)

// CaptionLine is one income-statement category: the absolute amount plus the
// lead-sheet group ids it traces back to (empty when the caption has no
// lead-sheet presence).
type CaptionLine struct {
	Amount     decimal.Decimal `json:"amount"`
	LeadSheets []string        `json:"lead_sheets"`
}

type IncomeStatement struct {
	Year StatementYear `json:"year"`

	Revenue           CaptionLine `json:"revenue"`
	CostOfSales       CaptionLine `json:"cost_of_sales"`
	SalesAndMarketing CaptionLine `json:"sales_and_marketing_costs"`
	Administrative    CaptionLine `json:"administrative_expenses"`
	OtherOperating    CaptionLine `json:"other_operating_income"`
	InvestmentIncome  CaptionLine `json:"investment_income"`
	InvestmentLosses  CaptionLine `json:"investment_losses"`
	FinanceCosts      CaptionLine `json:"finance_costs"`
	ShareOfSubsidiary CaptionLine `json:"share_of_profit_of_subsidiary"`
	PBTExpenses       CaptionLine `json:"pbt_expenses"`
	IncomeTaxExpense  CaptionLine `json:"income_tax_expense"`

	GrossProfit        decimal.Decimal `json:"gross_profit"`
	OperatingProfit    decimal.Decimal `json:"operating_profit"`
	NetProfitBeforeTax decimal.Decimal `json:"net_profit_before_tax"`
	NetResult          decimal.Decimal `json:"net_result"`
	ResultType         string          `json:"result_type"`
}

// BuildIncomeStatement derives the P&L for one year from the
// Equity > "Current Year Profits & Losses" subtree. Caption lines carry
// absolute amounts; the roll-up subtotals keep their sign (sign-normalized
// values already read as contributions to equity, so income is positive and
// expense negative).
func BuildIncomeStatement(tree *LeadSheetTree, year StatementYear) *IncomeStatement {
	branch := tree.Family(models.Grouping1Equity).Branch(models.GroupingCurrentYearPL)

	line := func(caption string) (CaptionLine, decimal.Decimal) {
		group := branch.Group(caption)
		if group == nil {
			return CaptionLine{Amount: decimal.Zero, LeadSheets: []string{}}, decimal.Zero
		}
		value := group.Totals.ValueFor(year)
		return CaptionLine{Amount: value.Abs(), LeadSheets: []string{group.Id}}, value
	}

	result := IncomeStatement{Year: year}

	var revenue, costOfSales, salesMarketing, administrative, otherOperating decimal.Decimal
	var investmentIncome, investmentLosses, financeCosts, shareOfSubsidiary, pbtExpenses, incomeTax decimal.Decimal

	result.Revenue, revenue = line(CaptionRevenue)
	result.CostOfSales, costOfSales = line(CaptionCostOfSales)
	result.SalesAndMarketing, salesMarketing = line(CaptionSalesAndMarketing)
	result.Administrative, administrative = line(CaptionAdministrative)
	result.OtherOperating, otherOperating = line(CaptionOtherOperating)
	result.InvestmentIncome, investmentIncome = line(CaptionInvestmentIncome)
	result.InvestmentLosses, investmentLosses = line(CaptionInvestmentLosses)
	result.FinanceCosts, financeCosts = line(CaptionFinanceCosts)
	result.ShareOfSubsidiary, shareOfSubsidiary = line(CaptionShareOfSubsidiary)
	result.PBTExpenses, pbtExpenses = line(CaptionPBTExpenses)
	result.IncomeTaxExpense, incomeTax = line(CaptionIncomeTaxExpense)

	result.GrossProfit = revenue.Add(costOfSales)
	result.OperatingProfit = result.GrossProfit.
		Add(salesMarketing).Add(administrative).Add(otherOperating)
	result.NetProfitBeforeTax = result.OperatingProfit.
		Add(investmentIncome).Add(investmentLosses).Add(financeCosts).
		Add(shareOfSubsidiary).Add(pbtExpenses)
	result.NetResult = result.NetProfitBeforeTax.Add(incomeTax)

	if result.NetResult.IsNegative() {
		result.ResultType = ResultTypeNetLoss
	} else {
		result.ResultType = ResultTypeNetProfit
	}
	return &result
}
