package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/goodreads"
	"github.com/jzhao23/social-reading-discovery/pkg/metrics"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/resolution"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

// ErrUnknownJobType is returned when a job kind has no handler
var ErrUnknownJobType = errors.New("unknown job type")

const refreshLockTTL = 10 * time.Minute

var bioURLPattern = regexp.MustCompile(`https?://[^\s]+`)

// ImportStore is the import run persistence the handlers need
type ImportStore interface {
	Get(ctx context.Context, id string) (*models.Import, error)
	SetStatus(ctx context.Context, id string, status models.ImportStatus, errMsg *string) error
	SetTotalAccounts(ctx context.Context, id string, total int) error
	MarkComplete(ctx context.Context, id string) error
	SetSourceAccountID(ctx context.Context, id string, accountID string) error
	IncrementResolved(ctx context.Context, id string) error
	IncrementMatched(ctx context.Context, id string) error
}

// ConnectionStore is the connection persistence the handlers need
type ConnectionStore interface {
	Get(ctx context.Context, id string) (*models.Connection, error)
	CreateBatch(ctx context.Context, connections []*models.Connection) error
	ListByImport(ctx context.Context, importID string) ([]models.Connection, error)
	ApplyMatch(ctx context.Context, id string, goodreadsUserID string, confidence float64, method models.ResolutionMethod, verified bool) error
}

// FeedStore is the feed item persistence the handlers need
type FeedStore interface {
	CreateBatch(ctx context.Context, items []*models.FeedItem) (int64, error)
}

// SocialSource fetches a user's social graph from the source platform
type SocialSource interface {
	FetchProfileByHandle(ctx context.Context, handle string) (*models.SourceProfile, error)
	FetchFollowing(ctx context.Context, accountID string) ([]models.SourceProfile, error)
}

// ReadingSource fetches public reading activity for a matched account
type ReadingSource interface {
	FetchShelf(ctx context.Context, userID string, shelf string) ([]goodreads.ShelfBook, error)
	FetchRecentActivity(ctx context.Context, userID string) ([]models.ReadingActivity, error)
}

// Resolver maps source profiles to reading-platform identities
type Resolver interface {
	Resolve(ctx context.Context, profile *models.SourceProfile) (*resolution.Match, error)
}

// EventEmitter publishes domain events. Emission failures never fail a job.
type EventEmitter interface {
	ImportCompleted(ctx context.Context, imp *models.Import) error
	ConnectionResolved(ctx context.Context, conn *models.Connection) error
	FeedItemsCreated(ctx context.Context, userID string, count int64) error
}

// Handlers runs the domain logic behind each job kind
type Handlers struct {
	imports        ImportStore
	connections    ConnectionStore
	feed           FeedStore
	social         SocialSource
	reading        ReadingSource
	resolver       Resolver
	emitter        EventEmitter
	dispatcher     Dispatcher
	locker         *redis.Locker
	readShelfLimit int
	logger         ectologger.Logger
}

func NewHandlers(
	imports ImportStore,
	connections ConnectionStore,
	feed FeedStore,
	social SocialSource,
	reading ReadingSource,
	resolver Resolver,
	emitter EventEmitter,
	locker *redis.Locker,
	readShelfLimit int,
	logger ectologger.Logger,
) *Handlers {
	if readShelfLimit <= 0 {
		readShelfLimit = 20
	}
	return &Handlers{
		imports:        imports,
		connections:    connections,
		feed:           feed,
		social:         social,
		reading:        reading,
		resolver:       resolver,
		emitter:        emitter,
		locker:         locker,
		readShelfLimit: readShelfLimit,
		logger:         logger,
	}
}

// SetDispatcher wires the dispatcher after construction. The inline
// dispatcher depends on the handlers, so this breaks the cycle.
func (h *Handlers) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// Handle routes a job message to its handler
func (h *Handlers) Handle(ctx context.Context, job *redis.JobMessage) error {
	switch Kind(job.Type) {
	case KindImport:
		var payload ImportPayload
		if err := DecodePayload(job.Payload, &payload); err != nil {
			return err
		}
		return h.HandleImport(ctx, payload)
	case KindResolve:
		var payload ResolvePayload
		if err := DecodePayload(job.Payload, &payload); err != nil {
			return err
		}
		return h.HandleResolve(ctx, payload)
	case KindActivity:
		var payload ActivityPayload
		if err := DecodePayload(job.Payload, &payload); err != nil {
			return err
		}
		return h.HandleActivity(ctx, payload)
	case KindRefresh:
		var payload RefreshPayload
		if err := DecodePayload(job.Payload, &payload); err != nil {
			return err
		}
		return h.HandleRefresh(ctx, payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
}

// HandleImport fetches the import's social graph, creates unresolved
// connections, and fans out one resolve job per connection.
func (h *Handlers) HandleImport(ctx context.Context, payload ImportPayload) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Handlers.HandleImport")
	defer span.End()

	start := time.Now()
	log := h.logger.WithContext(ctx).WithField("import_id", payload.ImportID)

	imp, err := h.imports.Get(ctx, payload.ImportID)
	if err != nil {
		return err
	}

	if err := h.imports.SetStatus(ctx, imp.ID, models.ImportStatusProcessing, nil); err != nil {
		return err
	}

	if err := h.runImport(ctx, imp); err != nil {
		msg := err.Error()
		if statusErr := h.imports.SetStatus(ctx, imp.ID, models.ImportStatusFailed, &msg); statusErr != nil {
			log.WithError(statusErr).Error("Failed to mark import failed")
		}
		metrics.RecordImport(string(imp.SourcePlatform), "failed", time.Since(start).Seconds())
		return err
	}

	if err := h.imports.MarkComplete(ctx, imp.ID); err != nil {
		return err
	}
	metrics.RecordImport(string(imp.SourcePlatform), "complete", time.Since(start).Seconds())

	if completed, getErr := h.imports.Get(ctx, imp.ID); getErr == nil {
		if emitErr := h.emitter.ImportCompleted(ctx, completed); emitErr != nil {
			log.WithError(emitErr).Warn("Failed to emit import completed event")
		}
	}

	log.WithField("duration", time.Since(start).String()).Info("Import completed")
	return nil
}

func (h *Handlers) runImport(ctx context.Context, imp *models.Import) error {
	log := h.logger.WithContext(ctx).WithField("import_id", imp.ID)

	// API-created imports carry only the handle; resolve it once and keep
	// the account id so refreshes skip the lookup.
	if imp.SourceAccountID == "" {
		profile, err := h.social.FetchProfileByHandle(ctx, imp.SourceHandle)
		if err != nil {
			return fmt.Errorf("failed to resolve source handle: %w", err)
		}
		imp.SourceAccountID = profile.UserID
		if err := h.imports.SetSourceAccountID(ctx, imp.ID, profile.UserID); err != nil {
			return err
		}
	}

	profiles, err := h.social.FetchFollowing(ctx, imp.SourceAccountID)
	if err != nil {
		return fmt.Errorf("failed to fetch social graph: %w", err)
	}

	if err := h.imports.SetTotalAccounts(ctx, imp.ID, len(profiles)); err != nil {
		return err
	}
	log.WithField("total_accounts", len(profiles)).Info("Fetched social graph")

	if len(profiles) == 0 {
		return nil
	}

	connections := make([]*models.Connection, 0, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		profileURL := p.ProfileURL
		if profileURL == "" {
			profileURL = "https://x.com/" + p.Handle
		}
		connections = append(connections, &models.Connection{
			ImportID:          imp.ID,
			UserID:            imp.UserID,
			SourcePlatform:    imp.SourcePlatform,
			SourceUserID:      p.UserID,
			SourceHandle:      p.Handle,
			SourceDisplayName: p.DisplayName,
			SourceBio:         p.Bio,
			SourceProfileURL:  profileURL,
		})
	}

	if err := h.connections.CreateBatch(ctx, connections); err != nil {
		return err
	}

	// Re-read so refreshed rows enqueue with their existing IDs
	created, err := h.connections.ListByImport(ctx, imp.ID)
	if err != nil {
		return err
	}

	for i := range created {
		payload := ResolvePayload{ImportID: imp.ID, ConnectionID: created[i].ID}
		if err := h.dispatcher.Enqueue(ctx, KindResolve, imp.UserID, payload); err != nil {
			log.WithError(err).WithField("connection_id", created[i].ID).Warn("Failed to enqueue resolve job")
		}
	}

	return nil
}

// HandleResolve runs the resolution pipeline for one connection. A match
// updates the connection and schedules an activity sync; no match leaves
// the connection untouched for manual linking later.
func (h *Handlers) HandleResolve(ctx context.Context, payload ResolvePayload) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Handlers.HandleResolve")
	defer span.End()

	log := h.logger.WithContext(ctx).WithField("connection_id", payload.ConnectionID)

	conn, err := h.connections.Get(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}

	profile := &models.SourceProfile{
		Platform:    conn.SourcePlatform,
		UserID:      conn.SourceUserID,
		Handle:      conn.SourceHandle,
		DisplayName: conn.SourceDisplayName,
		Bio:         conn.SourceBio,
		ProfileURL:  conn.SourceProfileURL,
		LinkedURLs:  bioURLPattern.FindAllString(conn.SourceBio, -1),
	}

	match, err := h.resolver.Resolve(ctx, profile)
	if err != nil {
		return err
	}

	if incErr := h.imports.IncrementResolved(ctx, conn.ImportID); incErr != nil {
		log.WithError(incErr).Warn("Failed to increment resolved counter")
	}

	if match == nil {
		return nil
	}

	if err := h.connections.ApplyMatch(ctx, conn.ID, match.GoodreadsUserID, match.Confidence, match.Method, false); err != nil {
		return err
	}
	if err := h.imports.IncrementMatched(ctx, conn.ImportID); err != nil {
		log.WithError(err).Warn("Failed to increment matched counter")
	}

	if matched, getErr := h.connections.Get(ctx, conn.ID); getErr == nil {
		if emitErr := h.emitter.ConnectionResolved(ctx, matched); emitErr != nil {
			log.WithError(emitErr).Warn("Failed to emit connection resolved event")
		}
	}

	if err := h.dispatcher.Enqueue(ctx, KindActivity, conn.UserID, ActivityPayload{ConnectionID: conn.ID}); err != nil {
		log.WithError(err).Warn("Failed to enqueue activity job")
	}

	return nil
}

// HandleActivity pulls a matched connection's public reading activity and
// materializes feed items. Inserts are idempotent on the feed's natural key.
func (h *Handlers) HandleActivity(ctx context.Context, payload ActivityPayload) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Handlers.HandleActivity")
	defer span.End()

	log := h.logger.WithContext(ctx).WithField("connection_id", payload.ConnectionID)

	conn, err := h.connections.Get(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}
	if conn.GoodreadsUserID == nil {
		log.Info("Connection has no match, skipping activity sync")
		return nil
	}
	readerID := *conn.GoodreadsUserID

	now := time.Now().UTC()
	var items []*models.FeedItem

	current, err := h.reading.FetchShelf(ctx, readerID, goodreads.ShelfCurrentlyReading)
	if err != nil {
		return fmt.Errorf("failed to fetch currently-reading shelf: %w", err)
	}
	for i := range current {
		entry := &current[i]
		activityDate := now
		if entry.DateAdded != nil {
			activityDate = *entry.DateAdded
		}
		items = append(items, h.feedItem(conn, readerID, models.ActivityCurrentlyReading, &entry.Book, 0, "", activityDate))
	}

	read, err := h.reading.FetchShelf(ctx, readerID, goodreads.ShelfRead)
	if err != nil {
		return fmt.Errorf("failed to fetch read shelf: %w", err)
	}
	if len(read) > h.readShelfLimit {
		read = read[:h.readShelfLimit]
	}
	for i := range read {
		entry := &read[i]
		activityType := models.ActivityRead
		if entry.Rating > 0 {
			activityType = models.ActivityRating
		}
		activityDate := now
		if entry.DateRead != nil {
			activityDate = *entry.DateRead
		} else if entry.DateAdded != nil {
			activityDate = *entry.DateAdded
		}
		items = append(items, h.feedItem(conn, readerID, activityType, &entry.Book, entry.Rating, "", activityDate))
	}

	updates, err := h.reading.FetchRecentActivity(ctx, readerID)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch recent updates, continuing with shelves")
	}
	for i := range updates {
		update := &updates[i]
		if update.Type != models.ActivityReview {
			continue
		}
		items = append(items, h.feedItem(conn, readerID, models.ActivityReview, &update.Book, update.Rating, update.ReviewSnippet, update.ActivityDate))
	}

	inserted, err := h.feed.CreateBatch(ctx, items)
	if err != nil {
		return err
	}
	for _, item := range items {
		metrics.RecordFeedItem(string(item.ActivityType))
	}

	if inserted > 0 {
		if emitErr := h.emitter.FeedItemsCreated(ctx, conn.UserID, inserted); emitErr != nil {
			log.WithError(emitErr).Warn("Failed to emit feed items event")
		}
	}

	log.WithFields(map[string]any{"built": len(items), "inserted": inserted}).Info("Synced reading activity")
	return nil
}

// HandleRefresh re-runs a completed import under a per-import lock so
// overlapping refreshes never double-process the graph
func (h *Handlers) HandleRefresh(ctx context.Context, payload RefreshPayload) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Handlers.HandleRefresh")
	defer span.End()

	log := h.logger.WithContext(ctx).WithField("import_id", payload.ImportID)

	err := h.locker.WithLock(ctx, "refresh:"+payload.ImportID, refreshLockTTL, func() error {
		return h.HandleImport(ctx, ImportPayload(payload))
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		log.Info("Refresh already in progress, skipping")
		return nil
	}
	return err
}

func (h *Handlers) feedItem(conn *models.Connection, readerID string, activityType models.ActivityType, book *models.Book, rating int, snippet string, activityDate time.Time) *models.FeedItem {
	item := &models.FeedItem{
		UserID:          conn.UserID,
		ConnectionID:    conn.ID,
		GoodreadsUserID: readerID,
		ActivityType:    activityType,
		BookID:          book.ID,
		BookTitle:       book.Title,
		ActivityDate:    activityDate,
	}
	if book.Author != "" {
		item.BookAuthor = &book.Author
	}
	if book.CoverURL != "" {
		item.BookCoverURL = &book.CoverURL
	}
	if rating > 0 {
		item.Rating = &rating
	}
	if snippet != "" {
		item.ReviewSnippet = &snippet
	}
	return item
}
