package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/models"
)

// ETBData is the read-only derivation consumed by downstream reporting and
// the review pipeline.
type ETBData struct {
	LeadSheets      *LeadSheetTree   `json:"lead_sheets"`
	IncomeStatement *IncomeStatement `json:"income_statement"`
	BalanceSheet    *BalanceSheet    `json:"balance_sheet"`
}

// ExtractETBData is the pure derivation entry point: sign-normalize the rows,
// build the lead-sheet tree, then derive the statements. The income statement
// is reported for the requested year; the balance sheet always carries both
// year columns.
func ExtractETBData(rows []*models.ETBRow, year StatementYear) *ETBData {
	normalized := NormalizeRows(rows)
	tree := BuildLeadSheetTree(normalized)

	current := BuildIncomeStatement(tree, YearCurrent)
	statement := current
	if year == YearPrior {
		statement = BuildIncomeStatement(tree, YearPrior)
	}

	retained := BuildRetainedEarnings(tree, current)
	balanceSheet := BuildBalanceSheet(tree, retained)

	return &ETBData{
		LeadSheets:      tree,
		IncomeStatement: statement,
		BalanceSheet:    balanceSheet,
	}
}

// GetETBData fetches the engagement's ETB and derives the statement view,
// optionally through the redis report cache.
func GetETBData(ctx context.Context, engagementId string, year StatementYear) (*ETBData, error) {
	started := time.Now()
	defer logSlowReport(ctx, "etb_data", started, map[string]any{"engagement_id": engagementId, "year": year})

	cacheKey := models.ETBDataCacheKey(engagementId, string(year))
	if reportCacheEnabled() {
		var cached ETBData
		if exists, err := cacheGet(cacheKey, &cached); err == nil && exists {
			return &cached, nil
		}
	}

	etb, err := models.GetETBByEngagement(ctx, engagementId)
	if err != nil {
		return nil, err
	}
	rows := make([]*models.ETBRow, 0, len(etb.Rows))
	for i := range etb.Rows {
		rows = append(rows, &etb.Rows[i])
	}

	result := ExtractETBData(rows, year)

	if reportCacheEnabled() {
		// best-effort cache write
		_ = cacheSet(cacheKey, result, reportCacheTTL())
	}
	return result, nil
}
