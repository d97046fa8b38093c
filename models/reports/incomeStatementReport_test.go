package reports

import (
	"testing"

	"bitbucket.org/mmdatafocus/audit_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cyplPrefix = "Equity > Current Year Profits & Losses > "

// plRows builds raw (pre-normalization) P&L rows: revenue is naturally a
// credit so it arrives negative-signed only after normalization flips it.
func plTree(t *testing.T, raw map[string]int64) *LeadSheetTree {
	t.Helper()
	rows := make([]*models.ETBRow, 0, len(raw))
	for caption, amount := range raw {
		rows = append(rows, row("r-"+caption, cyplPrefix+caption, amount, amount))
	}
	return BuildLeadSheetTree(NormalizeRows(rows))
}

func TestParseStatementYear(t *testing.T) {
	for _, s := range []string{"", "current", "current_year", " Current "} {
		year, err := ParseStatementYear(s)
		require.NoError(t, err, "input %q", s)
		assert.Equal(t, YearCurrent, year)
	}
	for _, s := range []string{"prior", "prior_year"} {
		year, err := ParseStatementYear(s)
		require.NoError(t, err)
		assert.Equal(t, YearPrior, year)
	}
	_, err := ParseStatementYear("fy2024")
	assert.Error(t, err)
}

func TestBuildIncomeStatementProfit(t *testing.T) {
	// Raw trial-balance signs: income credit-negative, expense debit-positive.
	// After normalization income reads positive, expense negative.
	tree := plTree(t, map[string]int64{
		CaptionRevenue:          -500,
		CaptionCostOfSales:      200,
		CaptionAdministrative:   100,
		CaptionIncomeTaxExpense: 30,
	})

	is := BuildIncomeStatement(tree, YearCurrent)

	// caption lines carry absolute amounts and trace to their lead sheets
	assert.True(t, is.Revenue.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, []string{LeadSheetId(cyplPrefix + CaptionRevenue)}, is.Revenue.LeadSheets)
	assert.True(t, is.CostOfSales.Amount.Equal(decimal.NewFromInt(200)))

	// absent captions render as zero with no lead sheets
	assert.True(t, is.FinanceCosts.Amount.IsZero())
	assert.Empty(t, is.FinanceCosts.LeadSheets)

	// subtotals keep their sign
	assert.True(t, is.GrossProfit.Equal(decimal.NewFromInt(300)), "grossProfit = %s", is.GrossProfit)
	assert.True(t, is.OperatingProfit.Equal(decimal.NewFromInt(200)))
	assert.True(t, is.NetProfitBeforeTax.Equal(decimal.NewFromInt(200)))
	assert.True(t, is.NetResult.Equal(decimal.NewFromInt(170)))
	assert.Equal(t, ResultTypeNetProfit, is.ResultType)
}

func TestBuildIncomeStatementLoss(t *testing.T) {
	tree := plTree(t, map[string]int64{
		CaptionRevenue:     -100,
		CaptionCostOfSales: 250,
	})

	is := BuildIncomeStatement(tree, YearCurrent)
	assert.True(t, is.NetResult.Equal(decimal.NewFromInt(-150)))
	assert.Equal(t, ResultTypeNetLoss, is.ResultType)
	// the caption line still reads as a magnitude
	assert.True(t, is.CostOfSales.Amount.Equal(decimal.NewFromInt(250)))
}

func TestBuildIncomeStatementZeroResultIsProfit(t *testing.T) {
	tree := plTree(t, map[string]int64{
		CaptionRevenue:     -100,
		CaptionCostOfSales: 100,
	})
	is := BuildIncomeStatement(tree, YearCurrent)
	assert.True(t, is.NetResult.IsZero())
	assert.Equal(t, ResultTypeNetProfit, is.ResultType)
}

func TestBuildIncomeStatementPriorYearReadsPriorColumn(t *testing.T) {
	rows := []*models.ETBRow{
		row("r1", cyplPrefix+CaptionRevenue, -500, -320),
	}
	// a posted adjustment moves the current year only
	rows[0].Adjustments = decimal.NewFromInt(-40)
	rows[0].RecomputeFinalBalance()

	tree := BuildLeadSheetTree(NormalizeRows(rows))

	current := BuildIncomeStatement(tree, YearCurrent)
	assert.True(t, current.Revenue.Amount.Equal(decimal.NewFromInt(540)),
		"current revenue = %s, want 540 (finalBalance)", current.Revenue.Amount)

	prior := BuildIncomeStatement(tree, YearPrior)
	assert.True(t, prior.Revenue.Amount.Equal(decimal.NewFromInt(320)))
	assert.True(t, prior.NetResult.Equal(decimal.NewFromInt(320)))
}

func TestBuildIncomeStatementEmptyTree(t *testing.T) {
	tree := BuildLeadSheetTree(nil)
	is := BuildIncomeStatement(tree, YearCurrent)
	assert.True(t, is.NetResult.IsZero())
	assert.Equal(t, ResultTypeNetProfit, is.ResultType)
}
