package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"gorm.io/gorm"
)

// History is the append-only audit log. It lives in its own table, keyed by
// reference id, so the journal's hot-path payload stays small and entries
// survive journal deletion.
type History struct {
	ID            int           `gorm:"primary_key" json:"id"`
	EngagementId  string        `gorm:"size:64;index;not null" json:"engagement_id"`
	Action        HistoryAction `gorm:"size:10;not null" json:"action"`
	Before        string        `gorm:"type:text" json:"before"`
	After         string        `gorm:"type:text" json:"after"`
	Metadata      string        `gorm:"type:text" json:"metadata"`
	Description   string        `gorm:"type:text" json:"description"`
	ReferenceId   int           `gorm:"index" json:"reference_id"`
	ReferenceType string        `gorm:"size:64" json:"reference_type"`
	ActorId       string        `gorm:"size:64;not null" json:"actor_id"`
	ActorName     string        `gorm:"size:100" json:"actor_name"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (h History) GetId() int {
	return h.ID
}

func (h History) GetCursor() string {
	return h.CreatedAt.String()
}

func createHistory(tx *gorm.DB,
	engagementId string,
	action HistoryAction,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	metadata interface{},
	description string) error {

	b, _ := utils.MarshalToJSON(before)
	a, _ := utils.MarshalToJSON(after)
	m, _ := utils.MarshalToJSON(metadata)

	ctx := tx.Statement.Context
	actor := utils.GetActorFromContext(ctx)

	history := History{
		EngagementId:  engagementId,
		Action:        action,
		Before:        b,
		After:         a,
		Metadata:      m,
		Description:   description,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		ActorId:       actor.Id,
		ActorName:     actor.Name,
	}

	return tx.Create(&history).Error
}

func saveJournalHistory(tx *gorm.DB, journal *Journal, action HistoryAction, before interface{}, after interface{}, metadata interface{}, description string) error {
	return createHistory(tx, journal.EngagementId, action, journal.ID, "journals", before, after, metadata, description)
}

// GetJournalHistory returns a journal's audit entries, newest first.
func GetJournalHistory(ctx context.Context, engagementId string, journalId int) ([]*History, error) {
	db := config.GetDB()
	var results []*History
	err := db.WithContext(ctx).
		Where("engagement_id = ? AND reference_type = ? AND reference_id = ?", engagementId, "journals", journalId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// PaginateHistory pages through an engagement's audit trail, newest first.
func PaginateHistory(ctx context.Context, engagementId string, limit int, after *string, action *HistoryAction) (*HistoriesConnection, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("engagement_id = ?", engagementId)
	if action != nil && *action != "" {
		dbCtx = dbCtx.Where("action = ?", *action)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[History](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection HistoriesConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		historyEdge := HistoriesEdge(edge)
		connection.Edges = append(connection.Edges, &historyEdge)
	}
	return &connection, nil
}

type HistoriesConnection struct {
	Edges    []*HistoriesEdge `json:"edges"`
	PageInfo *PageInfo        `json:"pageInfo"`
}

type HistoriesEdge Edge[History]
