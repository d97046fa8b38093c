package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
)

// ReviewEvent is the wire payload published to the downstream review pipeline
// whenever a journal lifecycle transition commits.
type ReviewEvent struct {
	ID            int       `json:"id"`
	EngagementId  string    `json:"engagement_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Action        string    `json:"action"`
	OldObj        []byte    `json:"old_obj"`
	NewObj        []byte    `json:"new_obj"`
	CorrelationId string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

// GetPubSubClient returns a Pub/Sub client, initializing it on first use.
// Uses Application Default Credentials.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	c, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

func ReviewEventTopicName() string {
	if v := os.Getenv("REVIEW_EVENT_TOPIC"); v != "" {
		return v
	}
	return "etb-review-events"
}

// PublishReviewEvent publishes one event and blocks for the server ack.
// Returns the Pub/Sub message id.
func PublishReviewEvent(ctx context.Context, event ReviewEvent) (string, error) {
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	topic := client.Topic(ReviewEventTopicName())
	defer topic.Stop()
	result := topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"engagement_id":  event.EngagementId,
			"action":         event.Action,
			"correlation_id": event.CorrelationId,
		},
	})
	return result.Get(ctx)
}
