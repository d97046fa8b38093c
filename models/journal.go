package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/shopspring/decimal"
)

// Journal is a double-entry posting against ETB rows. Adjustments and
// reclassifications share the document shape; the type decides which row
// accumulator a posted journal feeds.
type Journal struct {
	ID           int           `gorm:"primary_key" json:"id"`
	EngagementId string        `gorm:"size:64;not null;index;index:idx_journal_no,unique,priority:1" json:"engagement_id" binding:"required"`
	EtbId        int           `gorm:"index;not null" json:"etb_id" binding:"required"`
	JournalType  JournalType   `gorm:"type:enum('adjustment','reclassification');not null" json:"journal_type"`
	JournalNo    string        `gorm:"size:64;not null;index:idx_journal_no,unique,priority:2" json:"journal_no"`
	SequenceNo   int64         `gorm:"not null;default:0" json:"sequence_no"`
	Description  string        `gorm:"type:text" json:"description"`
	Status       JournalStatus `gorm:"type:enum('draft','posted');not null;default:'draft'" json:"status"`

	TotalDr decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"total_dr"`
	TotalCr decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"total_cr"`

	Entries []JournalEntry `gorm:"foreignKey:JournalId" json:"entries"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (j Journal) GetId() int {
	return j.ID
}

func (j Journal) GetCursor() string {
	return j.CreatedAt.String()
}

type JournalEntry struct {
	ID          int             `gorm:"primary_key" json:"id"`
	JournalId   int             `gorm:"index;not null" json:"journal_id"`
	EtbRowId    string          `gorm:"size:64" json:"etb_row_id"`
	Code        string          `gorm:"size:64" json:"code"`
	AccountName string          `gorm:"size:255" json:"account_name"`
	Dr          decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"dr"`
	Cr          decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"cr"`
	Details     string          `gorm:"size:255" json:"details"`
}

func (e JournalEntry) GetId() int {
	return e.ID
}

type NewJournalEntry struct {
	EtbRowId    string          `json:"etb_row_id"`
	Code        string          `json:"code"`
	AccountName string          `json:"account_name"`
	Dr          decimal.Decimal `json:"dr"`
	Cr          decimal.Decimal `json:"cr"`
	Details     string          `json:"details"`
}

type NewJournal struct {
	EngagementId string            `json:"engagement_id" binding:"required"`
	EtbId        int               `json:"etb_id" binding:"required"`
	JournalType  string            `json:"journal_type" binding:"required"`
	JournalNo    string            `json:"journal_no"`
	Description  string            `json:"description"`
	Entries      []NewJournalEntry `json:"entries"`
}

// UpdateJournalInput carries partial updates. Nil fields are left untouched.
// EtbVersion, when set, is the optimistic version the caller read; it only
// matters when the update has to touch ETB rows.
type UpdateJournalInput struct {
	Description *string            `json:"description"`
	Entries     *[]NewJournalEntry `json:"entries"`
	EtbVersion  *int               `json:"etb_version"`
}

type JournalsConnection struct {
	Edges    []*JournalsEdge `json:"edges"`
	PageInfo *PageInfo       `json:"pageInfo"`
}

type JournalsEdge Edge[Journal]

// receiveJournalEntries validates and normalizes entry input. Every entry
// must carry exactly one of dr/cr, both non-negative; amounts are rounded to
// whole currency units before anything else sees them.
func receiveJournalEntries(input []NewJournalEntry, journalId int) ([]JournalEntry, decimal.Decimal, decimal.Decimal, error) {
	entries := make([]JournalEntry, 0, len(input))
	totalDr := decimal.Zero
	totalCr := decimal.Zero
	for _, e := range input {
		dr := e.Dr.Round(0)
		cr := e.Cr.Round(0)
		if dr.IsNegative() || cr.IsNegative() {
			return nil, totalDr, totalCr, &ValidationError{
				Field:   "entries",
				Message: fmt.Sprintf("account %s: dr/cr must not be negative", e.Code),
			}
		}
		if dr.IsPositive() && cr.IsPositive() {
			return nil, totalDr, totalCr, &ValidationError{
				Field:   "entries",
				Message: fmt.Sprintf("account %s: entry cannot have both dr and cr", e.Code),
			}
		}
		if dr.IsZero() && cr.IsZero() {
			return nil, totalDr, totalCr, &ValidationError{
				Field:   "entries",
				Message: fmt.Sprintf("account %s: either dr or cr must have value", e.Code),
			}
		}
		totalDr = totalDr.Add(dr)
		totalCr = totalCr.Add(cr)
		entries = append(entries, JournalEntry{
			JournalId:   journalId,
			EtbRowId:    e.EtbRowId,
			Code:        e.Code,
			AccountName: e.AccountName,
			Dr:          dr,
			Cr:          cr,
			Details:     e.Details,
		})
	}
	return entries, totalDr, totalCr, nil
}

func (input *NewJournal) validate(ctx context.Context) (JournalType, error) {
	if input.EngagementId == "" {
		return "", &ValidationError{Field: "engagement_id", Message: "is required"}
	}
	if input.EtbId <= 0 {
		return "", &ValidationError{Field: "etb_id", Message: "is required"}
	}
	journalType, err := ParseJournalType(input.JournalType)
	if err != nil {
		return "", &ValidationError{Field: "journal_type", Message: err.Error()}
	}
	if err := utils.ValidateResourceId[ExtendedTrialBalance](ctx, input.EngagementId, input.EtbId); err != nil {
		return "", err
	}
	return journalType, nil
}

// CreateJournal creates a draft journal. The ETB is untouched until posting.
func CreateJournal(ctx context.Context, input *NewJournal) (*Journal, error) {
	journalType, err := input.validate(ctx)
	if err != nil {
		return nil, err
	}
	entries, totalDr, totalCr, err := receiveJournalEntries(input.Entries, 0)
	if err != nil {
		return nil, err
	}

	journal := Journal{
		EngagementId: input.EngagementId,
		EtbId:        input.EtbId,
		JournalType:  journalType,
		Description:  input.Description,
		Status:       JournalStatusDraft,
		TotalDr:      totalDr,
		TotalCr:      totalCr,
		Entries:      entries,
	}

	if input.JournalNo != "" {
		if err := utils.ValidateUnique[Journal](ctx, input.EngagementId, "journal_no", input.JournalNo, 0); err != nil {
			return nil, &ConflictError{Message: "journal number already in use: " + input.JournalNo}
		}
		journal.JournalNo = input.JournalNo
	} else {
		seqNo, err := utils.GetSequence[Journal](ctx, input.EngagementId,
			string(journalType), "journal_type = ?", journalType)
		if err != nil {
			return nil, err
		}
		journal.SequenceNo = seqNo
		journal.JournalNo = journalType.JournalNoPrefix() + fmt.Sprint(seqNo)
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&journal).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKeyError(err) {
			return nil, &ConflictError{Message: "journal number already in use: " + journal.JournalNo}
		}
		return nil, err
	}
	if err := saveJournalHistory(tx.WithContext(ctx), &journal, HistoryActionCreated, nil, &journal, nil,
		fmt.Sprintf("Journal %s created.", journal.JournalNo)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

// UpdateJournal edits a journal's description and/or entries. For a posted
// journal with changed entries, the old entries are reversed and the new ones
// applied against the ETB in the same transaction; any failure rolls the
// whole operation back, reversal included.
func UpdateJournal(ctx context.Context, engagementId string, id int, input *UpdateJournalInput) (*Journal, error) {
	journal, err := utils.FetchModel[Journal](ctx, engagementId, id, "Entries")
	if err != nil {
		return nil, err
	}
	oldJournal := *journal

	updates := map[string]interface{}{}
	if input.Description != nil {
		updates["Description"] = *input.Description
	}

	var newEntries []JournalEntry
	entriesChanged := input.Entries != nil
	if entriesChanged {
		var totalDr, totalCr decimal.Decimal
		newEntries, totalDr, totalCr, err = receiveJournalEntries(*input.Entries, id)
		if err != nil {
			return nil, err
		}
		// A posted journal must stay balanced; drafts may hold anything.
		if journal.Status == JournalStatusPosted && !totalDr.Equal(totalCr) {
			return nil, &UnbalancedJournalError{JournalNo: journal.JournalNo, TotalDr: totalDr, TotalCr: totalCr}
		}
		updates["TotalDr"] = totalDr
		updates["TotalCr"] = totalCr
	}

	db := config.GetDB()
	tx := db.Begin()

	// A posted journal's ETB impact follows its entries: reverse the old set,
	// then apply the new one.
	if journal.Status == JournalStatusPosted && entriesChanged {
		etb, err := fetchETBForUpdate(ctx, tx, engagementId, journal.EtbId, input.EtbVersion)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		rows, err := fetchETBRows(ctx, tx, etb.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if _, err := applyJournal(ctx, tx, journal, journal.Entries, rows, -1, false); err != nil {
			tx.Rollback()
			return nil, err
		}
		if _, err := applyJournal(ctx, tx, journal, newEntries, rows, +1, false); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := bumpETBVersion(ctx, tx, etb); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if entriesChanged {
		if err := tx.WithContext(ctx).Where("journal_id = ?", id).Delete(&JournalEntry{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if len(newEntries) > 0 {
			if err := tx.WithContext(ctx).Create(&newEntries).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if len(updates) > 0 {
		if err := tx.WithContext(ctx).Model(journal).Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if entriesChanged {
		journal.Entries = newEntries
	}

	if err := saveJournalHistory(tx.WithContext(ctx), journal, HistoryActionUpdated, &oldJournal, journal, nil,
		fmt.Sprintf("Journal %s updated.", journal.JournalNo)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if journal.Status == JournalStatusPosted && entriesChanged {
		if err := PublishToReview(ctx, tx.WithContext(ctx), engagementId, journal.ID, "journals",
			journal, &oldJournal, ReviewEventActionUpdated); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if journal.Status == JournalStatusPosted && entriesChanged {
		invalidateETBDataCache(engagementId)
	}
	return journal, nil
}

// DeleteJournal removes a journal from either state. A posted journal's ETB
// impact is reversed first; by default that reversal is best-effort (a
// missing row is logged and skipped), matching long-standing behavior.
// STRICT_DELETE_REVERSAL=true makes the missing row abort the delete instead.
func DeleteJournal(ctx context.Context, engagementId string, id int) (*Journal, error) {
	journal, err := utils.FetchModel[Journal](ctx, engagementId, id, "Entries")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	if journal.Status == JournalStatusPosted {
		etb, err := fetchETBForUpdate(ctx, tx, engagementId, journal.EtbId, nil)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		rows, err := fetchETBRows(ctx, tx, etb.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		bestEffort := !config.StrictDeleteReversal()
		if _, err := applyJournal(ctx, tx, journal, journal.Entries, rows, -1, bestEffort); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := bumpETBVersion(ctx, tx, etb); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := saveJournalHistory(tx.WithContext(ctx), journal, HistoryActionDeleted, journal, nil, nil,
		fmt.Sprintf("Journal %s deleted.", journal.JournalNo)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("journal_id = ?", id).Delete(&JournalEntry{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&Journal{}, id).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := PublishToReview(ctx, tx.WithContext(ctx), engagementId, journal.ID, "journals",
		nil, journal, ReviewEventActionDeleted); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if journal.Status == JournalStatusPosted {
		invalidateETBDataCache(engagementId)
	}
	return journal, nil
}

func GetJournal(ctx context.Context, engagementId string, id int) (*Journal, error) {
	return utils.FetchModel[Journal](ctx, engagementId, id, "Entries")
}

func PaginateJournals(ctx context.Context, engagementId string, limit int, after *string, journalType *string, status *string, journalNo *string) (*JournalsConnection, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Preload("Entries").Where("engagement_id = ?", engagementId)
	if journalType != nil && *journalType != "" {
		dbCtx = dbCtx.Where("journal_type = ?", *journalType)
	}
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if journalNo != nil && *journalNo != "" {
		dbCtx = dbCtx.Where("journal_no LIKE ?", "%"+*journalNo+"%")
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Journal](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection JournalsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		journalsEdge := JournalsEdge(edge)
		connection.Edges = append(connection.Edges, &journalsEdge)
	}
	return &connection, nil
}
