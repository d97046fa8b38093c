package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefList is a JSON-encoded set of journal ids stored in a text column.
// It records which posted journals have contributed to a row.
type RefList []int

func (r RefList) Value() (driver.Value, error) {
	if r == nil {
		r = RefList{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *RefList) Scan(value interface{}) error {
	if value == nil {
		*r = RefList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*r = RefList{}
			return nil
		}
		return json.Unmarshal(v, r)
	case string:
		if v == "" {
			*r = RefList{}
			return nil
		}
		return json.Unmarshal([]byte(v), r)
	}
	return errors.New("unsupported ref list column type")
}

func (r RefList) Has(id int) bool {
	for _, ref := range r {
		if ref == id {
			return true
		}
	}
	return false
}

func (r RefList) Add(id int) RefList {
	if r.Has(id) {
		return r
	}
	return append(r, id)
}

func (r RefList) Remove(id int) RefList {
	out := make(RefList, 0, len(r))
	for _, ref := range r {
		if ref != id {
			out = append(out, ref)
		}
	}
	return out
}

// ExtendedTrialBalance is the per-engagement row set. Version is an optimistic
// concurrency token: every committed row mutation bumps it, and journal
// operations may supply the version they read.
type ExtendedTrialBalance struct {
	ID           int       `gorm:"primary_key" json:"id"`
	EngagementId string    `gorm:"size:64;index;not null" json:"engagement_id" binding:"required"`
	Name         string    `gorm:"size:255" json:"name"`
	Version      int       `gorm:"not null;default:1" json:"version"`
	Rows         []ETBRow  `gorm:"foreignKey:EtbId" json:"rows"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *ExtendedTrialBalance) GetId() int {
	return e.ID
}

type ETBRow struct {
	ID           int    `gorm:"primary_key" json:"id"`
	EtbId        int    `gorm:"index;not null" json:"etb_id"`
	EngagementId string `gorm:"size:64;index;not null" json:"engagement_id"`
	// RowId is the stable opaque identifier clients address entries by.
	RowId string `gorm:"size:64;index;not null" json:"row_id"`
	// LegacyId tolerates older client payloads that sent numeric row ids.
	LegacyId    int    `gorm:"index" json:"legacy_id"`
	Code        string `gorm:"size:64;index" json:"code"`
	AccountName string `gorm:"size:255" json:"account_name"`

	CurrentYear      decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"current_year"`
	PriorYear        decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"prior_year"`
	Adjustments      decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"adjustments"`
	Reclassification decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"reclassification"`
	FinalBalance     decimal.Decimal `gorm:"type:decimal(20,0);default:0" json:"final_balance"`

	Classification       string  `gorm:"size:512" json:"classification"`
	AdjustmentRefs       RefList `gorm:"type:text" json:"adjustment_refs"`
	ReclassificationRefs RefList `gorm:"type:text" json:"reclassification_refs"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *ETBRow) GetId() int {
	return r.ID
}

// RecomputeFinalBalance restores the row invariant
// finalBalance = currentYear + adjustments + reclassification.
func (r *ETBRow) RecomputeFinalBalance() {
	r.FinalBalance = r.CurrentYear.Add(r.Adjustments).Add(r.Reclassification)
}

// Classification holds the parsed 3-segment path of a row.
type Classification struct {
	Grouping1 Grouping1
	Grouping2 string
	Grouping3 string
}

func (c Classification) Path() string {
	return fmt.Sprintf("%s %s %s %s %s",
		c.Grouping1, ClassificationDelimiter, c.Grouping2, ClassificationDelimiter, c.Grouping3)
}

// ParseClassification splits a ">"-delimited path into exactly 3 trimmed
// segments and validates the top-level family.
func ParseClassification(path string) (Classification, error) {
	segments := strings.Split(path, ClassificationDelimiter)
	if len(segments) != 3 {
		return Classification{}, fmt.Errorf("classification must have exactly 3 segments, got %d", len(segments))
	}
	g1, err := ParseGrouping1(segments[0])
	if err != nil {
		return Classification{}, err
	}
	g2 := strings.TrimSpace(segments[1])
	g3 := strings.TrimSpace(segments[2])
	if g2 == "" || g3 == "" {
		return Classification{}, errors.New("classification segment is empty")
	}
	return Classification{Grouping1: g1, Grouping2: g2, Grouping3: g3}, nil
}

type NewETBRow struct {
	RowId          string          `json:"row_id" binding:"required"`
	LegacyId       int             `json:"legacy_id"`
	Code           string          `json:"code" binding:"required"`
	AccountName    string          `json:"account_name"`
	CurrentYear    decimal.Decimal `json:"current_year"`
	PriorYear      decimal.Decimal `json:"prior_year"`
	Classification string          `json:"classification" binding:"required"`
}

type NewExtendedTrialBalance struct {
	EngagementId string      `json:"engagement_id" binding:"required"`
	Name         string      `json:"name"`
	Rows         []NewETBRow `json:"rows" binding:"required"`
}

func (input *NewExtendedTrialBalance) validate() error {
	if input.EngagementId == "" {
		return &ValidationError{Field: "engagement_id", Message: "is required"}
	}
	seen := make(map[string]bool, len(input.Rows))
	for _, row := range input.Rows {
		if row.RowId == "" {
			return &ValidationError{Field: "row_id", Message: "is required for account " + row.Code}
		}
		if seen[row.RowId] {
			return &ValidationError{Field: "row_id", Message: "duplicate row id " + row.RowId}
		}
		seen[row.RowId] = true
		if _, err := ParseClassification(row.Classification); err != nil {
			return &ValidationError{
				Field:   "classification",
				Message: fmt.Sprintf("account %s: %v", row.Code, err),
			}
		}
	}
	return nil
}

func receiveETBRows(input *NewExtendedTrialBalance, etbId int) []ETBRow {
	rows := make([]ETBRow, 0, len(input.Rows))
	for _, r := range input.Rows {
		row := ETBRow{
			EtbId:                etbId,
			EngagementId:         input.EngagementId,
			RowId:                r.RowId,
			LegacyId:             r.LegacyId,
			Code:                 r.Code,
			AccountName:          r.AccountName,
			CurrentYear:          r.CurrentYear.Round(0),
			PriorYear:            r.PriorYear.Round(0),
			Adjustments:          decimal.Zero,
			Reclassification:     decimal.Zero,
			Classification:       r.Classification,
			AdjustmentRefs:       RefList{},
			ReclassificationRefs: RefList{},
		}
		row.RecomputeFinalBalance()
		rows = append(rows, row)
	}
	return rows
}

// ImportETB creates the engagement's ETB, or replaces its row set wholesale.
// Replacing is rejected while posted journals reference the document; unpost
// or delete them first.
func ImportETB(ctx context.Context, input *NewExtendedTrialBalance) (*ExtendedTrialBalance, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var existing ExtendedTrialBalance
	err := db.WithContext(ctx).Where("engagement_id = ?", input.EngagementId).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}
	found := err == nil

	tx := db.Begin()
	if !found {
		etb := ExtendedTrialBalance{
			EngagementId: input.EngagementId,
			Name:         input.Name,
			Version:      1,
			Rows:         receiveETBRows(input, 0),
		}
		if err := tx.WithContext(ctx).Create(&etb).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return &etb, nil
	}

	postedCount, err := utils.ResourceCountWhere[Journal](ctx, input.EngagementId,
		"etb_id = ? AND status = ?", existing.ID, JournalStatusPosted)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if postedCount > 0 {
		tx.Rollback()
		return nil, &ConflictError{Message: "cannot reimport etb while posted journals exist; unpost them first"}
	}

	if err := tx.WithContext(ctx).Where("etb_id = ?", existing.ID).Delete(&ETBRow{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	rows := receiveETBRows(input, existing.ID)
	if len(rows) > 0 {
		if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Version": existing.Version + 1,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateETBDataCache(input.EngagementId)

	existing.Rows = rows
	return &existing, nil
}

// GetETB fetches an ETB with its rows, scoped to the engagement.
func GetETB(ctx context.Context, engagementId string, id int) (*ExtendedTrialBalance, error) {
	return utils.FetchModel[ExtendedTrialBalance](ctx, engagementId, id, "Rows")
}

// GetETBByEngagement fetches the engagement's ETB with its rows.
func GetETBByEngagement(ctx context.Context, engagementId string) (*ExtendedTrialBalance, error) {
	db := config.GetDB()
	var result ExtendedTrialBalance
	err := db.WithContext(ctx).Preload("Rows").
		Where("engagement_id = ?", engagementId).First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// fetchETBForUpdate locks the ETB document row for the duration of the
// enclosing transaction and enforces the caller's optimistic version, if any.
func fetchETBForUpdate(ctx context.Context, tx *gorm.DB, engagementId string, etbId int, expectedVersion *int) (*ExtendedTrialBalance, error) {
	var etb ExtendedTrialBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("engagement_id = ?", engagementId).
		First(&etb, etbId).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if expectedVersion != nil && *expectedVersion != etb.Version {
		return nil, &ConflictError{Message: fmt.Sprintf(
			"etb version mismatch: have %d, caller read %d", etb.Version, *expectedVersion)}
	}
	return &etb, nil
}

// ETBDataCacheKey is the redis key for one cached derived-statement view.
// The format lives here so row mutations can invalidate what reports cache.
func ETBDataCacheKey(engagementId string, year string) string {
	return fmt.Sprintf("ETBData:%s:%s", engagementId, year)
}

// invalidateETBDataCache drops the cached derived statements after a
// committed row mutation. Best effort: a failed delete only means readers
// see pre-mutation statements until the TTL runs out.
func invalidateETBDataCache(engagementId string) {
	_ = config.RemoveRedisKey(
		ETBDataCacheKey(engagementId, "current_year"),
		ETBDataCacheKey(engagementId, "prior_year"),
	)
}

// bumpETBVersion marks the document changed within the posting transaction.
func bumpETBVersion(ctx context.Context, tx *gorm.DB, etb *ExtendedTrialBalance) error {
	return tx.WithContext(ctx).Model(etb).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

func fetchETBRows(ctx context.Context, tx *gorm.DB, etbId int) ([]*ETBRow, error) {
	var rows []*ETBRow
	if err := tx.WithContext(ctx).Where("etb_id = ?", etbId).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
