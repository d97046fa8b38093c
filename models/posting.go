package models

import (
	"context"
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("models")

// PostingSummary reports how much of the ETB a posting touched.
type PostingSummary struct {
	TotalRows   int `json:"total_rows"`
	UpdatedRows int `json:"updated_rows"`
}

// locateRow resolves a journal entry to an ETB row. Preference order: the
// stable row id, then the legacy numeric id older clients sent in the same
// field, then the account code.
func locateRow(rows []*ETBRow, entry JournalEntry) *ETBRow {
	if entry.EtbRowId != "" {
		for _, row := range rows {
			if row.RowId == entry.EtbRowId {
				return row
			}
		}
		if legacyId, err := strconv.Atoi(entry.EtbRowId); err == nil {
			for _, row := range rows {
				if row.LegacyId == legacyId {
					return row
				}
			}
		}
	}
	if entry.Code != "" {
		for _, row := range rows {
			if row.Code == entry.Code {
				return row
			}
		}
	}
	return nil
}

// applyEntryDelta folds one entry's net movement (dr - cr) into the row
// accumulator that matches the journal type. sign is +1 to apply, -1 to
// reverse. Reversing also drops the journal from the row's ref set.
func applyEntryDelta(row *ETBRow, journalType JournalType, journalId int, net decimal.Decimal, sign int) {
	if sign < 0 {
		net = net.Neg()
	}
	switch journalType {
	case JournalTypeReclassification:
		row.Reclassification = row.Reclassification.Add(net)
		if sign > 0 {
			row.ReclassificationRefs = row.ReclassificationRefs.Add(journalId)
		} else {
			row.ReclassificationRefs = row.ReclassificationRefs.Remove(journalId)
		}
	default:
		row.Adjustments = row.Adjustments.Add(net)
		if sign > 0 {
			row.AdjustmentRefs = row.AdjustmentRefs.Add(journalId)
		} else {
			row.AdjustmentRefs = row.AdjustmentRefs.Remove(journalId)
		}
	}
	row.RecomputeFinalBalance()
}

// applyJournal walks the entries in order and mutates the in-memory rows,
// persisting each touched row inside tx. With bestEffort a missing row is
// logged and skipped; otherwise it aborts with RowNotFoundError.
func applyJournal(ctx context.Context, tx *gorm.DB, journal *Journal, entries []JournalEntry, rows []*ETBRow, sign int, bestEffort bool) (*PostingSummary, error) {
	logger := config.GetLogger()
	summary := PostingSummary{TotalRows: len(rows)}
	touched := make(map[int]bool, len(entries))

	for _, entry := range entries {
		row := locateRow(rows, entry)
		if row == nil {
			if bestEffort {
				config.LogWarn(logger, "models", "applyJournal", "apply journal entries",
					map[string]interface{}{"journal_id": journal.ID, "engagement_id": journal.EngagementId},
					fmt.Sprintf("etb row not found for account %s (row id %q), skipping", entry.Code, entry.EtbRowId))
				continue
			}
			return nil, &RowNotFoundError{Code: entry.Code, RowId: entry.EtbRowId}
		}

		net := entry.Dr.Sub(entry.Cr)
		applyEntryDelta(row, journal.JournalType, journal.ID, net, sign)

		if err := tx.WithContext(ctx).Model(row).Updates(map[string]interface{}{
			"Adjustments":          row.Adjustments,
			"Reclassification":     row.Reclassification,
			"FinalBalance":         row.FinalBalance,
			"AdjustmentRefs":       row.AdjustmentRefs,
			"ReclassificationRefs": row.ReclassificationRefs,
		}).Error; err != nil {
			return nil, err
		}
		if !touched[row.ID] {
			touched[row.ID] = true
			summary.UpdatedRows++
		}
	}
	return &summary, nil
}

// fetchJournalForUpdate re-reads the journal under a row lock so the status
// check holds for the rest of the enclosing transaction. Entries are loaded
// from the same snapshot. Lock order is always ETB first, then journal.
func fetchJournalForUpdate(ctx context.Context, tx *gorm.DB, engagementId string, id int) (*Journal, error) {
	var journal Journal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("engagement_id = ?", engagementId).
		First(&journal, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.WithContext(ctx).Where("journal_id = ?", id).Find(&journal.Entries).Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

// PostJournal applies a draft journal's entries to its ETB and flips the
// status, all in one transaction. Totals are recomputed from the stored
// entries before the balance check; a mismatched expectedVersion aborts
// before anything is touched. The draft check is repeated on a locked read
// inside the transaction, so two racing posts apply the deltas only once.
func PostJournal(ctx context.Context, engagementId string, id int, expectedVersion *int) (*Journal, *PostingSummary, error) {
	ctx, span := tracer.Start(ctx, "PostJournal", trace.WithAttributes(
		attribute.Int("journal.id", id), attribute.String("engagement.id", engagementId)))
	defer span.End()

	journal, err := utils.FetchModel[Journal](ctx, engagementId, id, "Entries")
	if err != nil {
		return nil, nil, err
	}
	if journal.Status != JournalStatusDraft {
		return nil, nil, &ConflictError{Message: "only draft journals can be posted"}
	}

	db := config.GetDB()
	tx := db.Begin()

	etb, err := fetchETBForUpdate(ctx, tx, engagementId, journal.EtbId, expectedVersion)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	// re-check under lock: a racing post may have flipped the status since
	// the unlocked read above
	journal, err = fetchJournalForUpdate(ctx, tx, engagementId, id)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if journal.Status != JournalStatusDraft {
		tx.Rollback()
		return nil, nil, &ConflictError{Message: "only draft journals can be posted"}
	}
	if len(journal.Entries) == 0 {
		tx.Rollback()
		return nil, nil, &ValidationError{Field: "entries", Message: "journal has no entries"}
	}

	totalDr := decimal.Zero
	totalCr := decimal.Zero
	for _, entry := range journal.Entries {
		totalDr = totalDr.Add(entry.Dr)
		totalCr = totalCr.Add(entry.Cr)
	}
	if !totalDr.Equal(totalCr) {
		tx.Rollback()
		return nil, nil, &UnbalancedJournalError{JournalNo: journal.JournalNo, TotalDr: totalDr, TotalCr: totalCr}
	}

	rows, err := fetchETBRows(ctx, tx, etb.ID)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	summary, err := applyJournal(ctx, tx, journal, journal.Entries, rows, +1, false)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	oldJournal := *journal
	if err := tx.WithContext(ctx).Model(journal).Updates(map[string]interface{}{
		"Status":  JournalStatusPosted,
		"TotalDr": totalDr,
		"TotalCr": totalCr,
	}).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	journal.Status = JournalStatusPosted
	journal.TotalDr = totalDr
	journal.TotalCr = totalCr

	if err := saveJournalHistory(tx.WithContext(ctx), journal, HistoryActionPosted, &oldJournal, journal, summary,
		fmt.Sprintf("Journal %s posted, %d of %d rows updated.", journal.JournalNo, summary.UpdatedRows, summary.TotalRows)); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := PublishToReview(ctx, tx.WithContext(ctx), engagementId, journal.ID, "journals",
		journal, nil, ReviewEventActionPosted); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := bumpETBVersion(ctx, tx, etb); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	invalidateETBDataCache(engagementId)
	return journal, summary, nil
}

// UnpostJournal reverses a posted journal's ETB impact and returns it to
// draft. Reversal is always strict: a row the posting reached must still
// exist, otherwise the whole operation rolls back.
func UnpostJournal(ctx context.Context, engagementId string, id int, expectedVersion *int) (*Journal, *PostingSummary, error) {
	ctx, span := tracer.Start(ctx, "UnpostJournal", trace.WithAttributes(
		attribute.Int("journal.id", id), attribute.String("engagement.id", engagementId)))
	defer span.End()

	journal, err := utils.FetchModel[Journal](ctx, engagementId, id, "Entries")
	if err != nil {
		return nil, nil, err
	}
	if journal.Status != JournalStatusPosted {
		return nil, nil, &ConflictError{Message: "only posted journals can be unposted"}
	}

	db := config.GetDB()
	tx := db.Begin()

	etb, err := fetchETBForUpdate(ctx, tx, engagementId, journal.EtbId, expectedVersion)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	// re-check under lock, mirroring PostJournal
	journal, err = fetchJournalForUpdate(ctx, tx, engagementId, id)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if journal.Status != JournalStatusPosted {
		tx.Rollback()
		return nil, nil, &ConflictError{Message: "only posted journals can be unposted"}
	}
	rows, err := fetchETBRows(ctx, tx, etb.ID)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	summary, err := applyJournal(ctx, tx, journal, journal.Entries, rows, -1, false)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	oldJournal := *journal
	if err := tx.WithContext(ctx).Model(journal).Update("Status", JournalStatusDraft).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	journal.Status = JournalStatusDraft

	if err := saveJournalHistory(tx.WithContext(ctx), journal, HistoryActionUnposted, &oldJournal, journal, summary,
		fmt.Sprintf("Journal %s unposted, %d of %d rows reverted.", journal.JournalNo, summary.UpdatedRows, summary.TotalRows)); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := PublishToReview(ctx, tx.WithContext(ctx), engagementId, journal.ID, "journals",
		journal, nil, ReviewEventActionUnposted); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := bumpETBVersion(ctx, tx, etb); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}
	invalidateETBDataCache(engagementId)
	return journal, summary, nil
}
