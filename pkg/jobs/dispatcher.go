package jobs

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/jzhao23/social-reading-discovery/pkg/redis"
)

// Dispatcher enqueues background jobs
type Dispatcher interface {
	Enqueue(ctx context.Context, kind Kind, userID string, payload any) error
}

// QueueDispatcher publishes jobs to Redis Streams for the processors
type QueueDispatcher struct {
	streams *redis.Streams
	logger  ectologger.Logger
}

func NewQueueDispatcher(streams *redis.Streams, logger ectologger.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		streams: streams,
		logger:  logger,
	}
}

func (d *QueueDispatcher) Enqueue(ctx context.Context, kind Kind, userID string, payload any) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	job := &redis.JobMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      string(kind),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := d.streams.Publish(ctx, StreamFor(kind), job); err != nil {
		return err
	}
	return nil
}

// InlineDispatcher runs jobs in-process. Used when the queue is disabled,
// typically in local development and tests.
type InlineDispatcher struct {
	handlers    *Handlers
	maxAttempts int
	backoff     time.Duration
	logger      ectologger.Logger
}

func NewInlineDispatcher(handlers *Handlers, maxAttempts int, backoff time.Duration, logger ectologger.Logger) *InlineDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &InlineDispatcher{
		handlers:    handlers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}
}

// Enqueue runs the job on a goroutine with bounded retries. The job outlives
// the originating request, so cancellation is detached.
func (d *InlineDispatcher) Enqueue(ctx context.Context, kind Kind, userID string, payload any) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	job := &redis.JobMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      string(kind),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}

	jobCtx := context.WithoutCancel(ctx)
	go d.run(jobCtx, job)
	return nil
}

// retryDelay doubles the base delay on every failed attempt
func retryDelay(backoff time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoff << (attempt - 1)
}

func (d *InlineDispatcher) run(ctx context.Context, job *redis.JobMessage) {
	log := d.logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.ID, "job_type": job.Type})

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		job.Attempts = attempt
		err := d.handlers.Handle(ctx, job)
		if err == nil {
			return
		}

		log.WithError(err).Warnf("Inline job failed (attempt %d/%d)", attempt, d.maxAttempts)
		if attempt < d.maxAttempts {
			time.Sleep(retryDelay(d.backoff, attempt))
		}
	}

	log.Error("Inline job exhausted retries")
}
