// Package events emits domain events when imports finish, connections match,
// and feed items land.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/kafka"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

const (
	EventImportCompleted    = "import.completed"
	EventConnectionResolved = "connection.resolved"
	EventFeedItemsCreated   = "feed.items.created"
)

// Emitter publishes domain events to Kafka. A nil producer disables
// emission, which keeps local development broker-free.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// ImportCompleted emits an event with the import's final counters
func (e *Emitter) ImportCompleted(ctx context.Context, imp *models.Import) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ImportCompleted")
	defer span.End()

	if e.producer == nil {
		return nil
	}

	data, err := json.Marshal(map[string]any{
		"source_platform":  imp.SourcePlatform,
		"total_accounts":   imp.TotalAccounts,
		"matched_accounts": imp.MatchedAccounts,
	})
	if err != nil {
		return err
	}

	return e.producer.Publish(ctx, &kafka.DiscoveryEvent{
		EventType: EventImportCompleted,
		UserID:    imp.UserID,
		SubjectID: imp.ID,
		Data:      data,
	})
}

// ConnectionResolved emits an event when a connection matches a reader
func (e *Emitter) ConnectionResolved(ctx context.Context, conn *models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ConnectionResolved")
	defer span.End()

	if e.producer == nil {
		return nil
	}

	payload := map[string]any{
		"source_platform": conn.SourcePlatform,
		"source_handle":   conn.SourceHandle,
		"confidence":      conn.MatchConfidence,
	}
	if conn.GoodreadsUserID != nil {
		payload["goodreads_user_id"] = *conn.GoodreadsUserID
	}
	if conn.MatchMethod != nil {
		payload["method"] = *conn.MatchMethod
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return e.producer.Publish(ctx, &kafka.DiscoveryEvent{
		EventType: EventConnectionResolved,
		UserID:    conn.UserID,
		SubjectID: conn.ID,
		Data:      data,
	})
}

// FeedItemsCreated emits an event when new activity lands on a user's feed
func (e *Emitter) FeedItemsCreated(ctx context.Context, userID string, count int64) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.FeedItemsCreated")
	defer span.End()

	if e.producer == nil {
		return nil
	}

	data, err := json.Marshal(map[string]any{"count": count})
	if err != nil {
		return err
	}

	return e.producer.Publish(ctx, &kafka.DiscoveryEvent{
		EventType: EventFeedItemsCreated,
		UserID:    userID,
		SubjectID: userID,
		Data:      data,
	})
}
