package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ReviewEventRecord is a transactional-outbox row. Journal lifecycle
// transitions write one inside the posting transaction; the dispatcher
// publishes it to Pub/Sub after commit for the downstream review pipeline.
type ReviewEventRecord struct {
	ID            int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EngagementId  string            `gorm:"size:64;not null;index" json:"engagement_id"`
	OccurredAt    time.Time         `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   int               `json:"reference_id"`
	ReferenceType string            `gorm:"size:64" json:"reference_type"`
	Action        ReviewEventAction `gorm:"size:10;not null" json:"action"`
	OldObj        []byte            `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte            `gorm:"type:blob" json:"new_obj"`

	// Publish metadata (dispatcher runs after commit).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishToReview writes the event record inside the caller's transaction but
// does NOT publish to Pub/Sub. Publishing happens asynchronously after commit.
func PublishToReview(ctx context.Context, tx *gorm.DB, engagementId string, refId int, refType string, obj interface{}, oldObj interface{}, action ReviewEventAction) error {

	var objInByte []byte
	var oldObjInByte []byte
	var err error

	if obj != nil {
		objInByte, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}
	if oldObj != nil {
		oldObjInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	record := ReviewEventRecord{
		EngagementId:  engagementId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		OldObj:        oldObjInByte,
		NewObj:        objInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToReviewEvent(record ReviewEventRecord) config.ReviewEvent {
	return config.ReviewEvent{
		ID:            record.ID,
		EngagementId:  record.EngagementId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}
