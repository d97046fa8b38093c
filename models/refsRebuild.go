package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"github.com/shopspring/decimal"
)

// RebuildEngagementRefs recomputes every ETB row's adjustment and
// reclassification accumulators, ref sets and final balance from the posted
// journals on record. Ops tool for repairing drift after manual data fixes;
// a journal entry whose row no longer exists is logged and skipped.
func RebuildEngagementRefs(ctx context.Context, engagementId string) (*PostingSummary, error) {
	logger := config.GetLogger()

	etb, err := GetETBByEngagement(ctx, engagementId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	locked, err := fetchETBForUpdate(ctx, tx, engagementId, etb.ID, nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	rows, err := fetchETBRows(ctx, tx, locked.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, row := range rows {
		row.Adjustments = decimal.Zero
		row.Reclassification = decimal.Zero
		row.AdjustmentRefs = RefList{}
		row.ReclassificationRefs = RefList{}
		row.RecomputeFinalBalance()
	}

	var journals []*Journal
	if err := tx.WithContext(ctx).Preload("Entries").
		Where("engagement_id = ? AND etb_id = ? AND status = ?", engagementId, locked.ID, JournalStatusPosted).
		Order("id ASC").
		Find(&journals).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	summary := PostingSummary{TotalRows: len(rows)}
	touched := make(map[int]bool)
	for _, journal := range journals {
		for _, entry := range journal.Entries {
			row := locateRow(rows, entry)
			if row == nil {
				config.LogWarn(logger, "models", "RebuildEngagementRefs", "replay posted journals",
					map[string]interface{}{"journal_id": journal.ID, "engagement_id": engagementId},
					fmt.Sprintf("etb row not found for account %s (row id %q), skipping", entry.Code, entry.EtbRowId))
				continue
			}
			net := entry.Dr.Sub(entry.Cr)
			applyEntryDelta(row, journal.JournalType, journal.ID, net, +1)
			if !touched[row.ID] {
				touched[row.ID] = true
				summary.UpdatedRows++
			}
		}
	}

	for _, row := range rows {
		if err := tx.WithContext(ctx).Model(row).Updates(map[string]interface{}{
			"Adjustments":          row.Adjustments,
			"Reclassification":     row.Reclassification,
			"FinalBalance":         row.FinalBalance,
			"AdjustmentRefs":       row.AdjustmentRefs,
			"ReclassificationRefs": row.ReclassificationRefs,
		}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := bumpETBVersion(ctx, tx, locked); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateETBDataCache(engagementId)
	return &summary, nil
}
