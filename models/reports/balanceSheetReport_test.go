package reports

import (
	"testing"

	"bitbucket.org/mmdatafocus/audit_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRetainedEarningsRollForward(t *testing.T) {
	rows := []*models.ETBRow{
		// credit balance of 100 brought forward, flipped to +100 on normalization
		row("re", "Equity > Equity > Retained earnings", 0, -100),
		row("rev", cyplPrefix+CaptionRevenue, -50, 0),
	}
	tree := BuildLeadSheetTree(NormalizeRows(rows))
	current := BuildIncomeStatement(tree, YearCurrent)
	require.True(t, current.NetResult.Equal(decimal.NewFromInt(50)))

	re := BuildRetainedEarnings(tree, current)
	assert.True(t, re.PriorValue.Equal(decimal.NewFromInt(100)), "priorValue = %s", re.PriorValue)
	assert.True(t, re.CurrentValue.Equal(decimal.NewFromInt(150)), "currentValue = %s", re.CurrentValue)
}

func TestBuildRetainedEarningsDefaultsToZero(t *testing.T) {
	tree := BuildLeadSheetTree(NormalizeRows([]*models.ETBRow{
		row("rev", cyplPrefix+CaptionRevenue, -50, 0),
	}))
	re := BuildRetainedEarnings(tree, BuildIncomeStatement(tree, YearCurrent))
	assert.True(t, re.PriorValue.IsZero())
	assert.True(t, re.CurrentValue.Equal(decimal.NewFromInt(50)))
}

func TestBuildBalanceSheetTiesOut(t *testing.T) {
	// Raw trial balance: assets 500 debit, liabilities 300 credit, share
	// capital 200 credit. Normalization leaves assets at 500 and flips the
	// credit families to -300 / -200.
	rows := []*models.ETBRow{
		row("a1", "Assets > Current assets > Cash", 500, 500),
		row("l1", "Liabilities > Current liabilities > Payables", 300, 300),
		row("e1", "Equity > Equity > Share capital", 200, 200),
	}
	tree := BuildLeadSheetTree(NormalizeRows(rows))
	current := BuildIncomeStatement(tree, YearCurrent)
	retained := BuildRetainedEarnings(tree, current)

	bs := BuildBalanceSheet(tree, retained)

	side := bs.CurrentYear
	assert.True(t, side.Assets.Equal(decimal.NewFromInt(500)))
	assert.True(t, side.Liabilities.Equal(decimal.NewFromInt(-300)))
	assert.True(t, side.Equity.Equal(decimal.NewFromInt(-200)))
	assert.True(t, side.TotalEquityAndLiabilities.Equal(decimal.NewFromInt(-500)))
	assert.True(t, side.Balanced)
	assert.True(t, bs.PriorYear.Balanced)
}

func TestBuildBalanceSheetDetectsImbalance(t *testing.T) {
	rows := []*models.ETBRow{
		row("a1", "Assets > Current assets > Cash", 500, 0),
		row("l1", "Liabilities > Current liabilities > Payables", 300, 0),
	}
	tree := BuildLeadSheetTree(NormalizeRows(rows))
	retained := BuildRetainedEarnings(tree, BuildIncomeStatement(tree, YearCurrent))

	bs := BuildBalanceSheet(tree, retained)
	assert.False(t, bs.CurrentYear.Balanced)
	// an empty column still ties out at zero
	assert.True(t, bs.PriorYear.Balanced)
}

func TestBuildBalanceSheetCountsResultOnce(t *testing.T) {
	// Assets grew by 50, matched by the year's result. Equity must pick the
	// result up from the roll-forward, not by summing the P&L branch as well.
	rows := []*models.ETBRow{
		row("a1", "Assets > Current assets > Cash", 550, 500),
		row("l1", "Liabilities > Current liabilities > Payables", 300, 300),
		row("e1", "Equity > Equity > Share capital", 200, 200),
		row("rev", cyplPrefix+CaptionRevenue, 50, 0),
	}
	tree := BuildLeadSheetTree(NormalizeRows(rows))
	current := BuildIncomeStatement(tree, YearCurrent)
	retained := BuildRetainedEarnings(tree, current)

	bs := BuildBalanceSheet(tree, retained)

	// Normalized revenue is -50, so retained.CurrentValue = 0 - 50. Equity
	// excludes the P&L branch, sums share capital (-200) and adds -50 back.
	assert.True(t, bs.CurrentYear.Equity.Equal(decimal.NewFromInt(-250)),
		"equity = %s", bs.CurrentYear.Equity)
	assert.True(t, bs.CurrentYear.RetainedEarnings.Equal(decimal.NewFromInt(-50)))
	assert.True(t, bs.CurrentYear.Balanced,
		"assets %s vs total %s", bs.CurrentYear.Assets, bs.CurrentYear.TotalEquityAndLiabilities)

	// prior side uses the brought-forward value only
	assert.True(t, bs.PriorYear.RetainedEarnings.IsZero())
	assert.True(t, bs.PriorYear.Balanced)
}

func TestBuildBalanceSheetExcludesRetainedEarningsLeafFromEquitySum(t *testing.T) {
	rows := []*models.ETBRow{
		row("a1", "Assets > Current assets > Cash", 300, 300),
		row("e1", "Equity > Equity > Share capital", 200, 200),
		row("re", "Equity > Equity > Retained earnings", 100, 100),
	}
	tree := BuildLeadSheetTree(NormalizeRows(rows))
	current := BuildIncomeStatement(tree, YearCurrent)
	retained := BuildRetainedEarnings(tree, current)

	// no P&L rows, so the roll-forward is just the brought-forward balance
	require.True(t, retained.CurrentValue.Equal(decimal.NewFromInt(-100)))

	bs := BuildBalanceSheet(tree, retained)
	// -200 share capital plus the -100 roll-forward; summing the skipped RE
	// leaf as well would double it to -400.
	assert.True(t, bs.CurrentYear.Equity.Equal(decimal.NewFromInt(-300)),
		"equity = %s", bs.CurrentYear.Equity)
	assert.True(t, bs.CurrentYear.Balanced)
}
