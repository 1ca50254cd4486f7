package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/jzhao23/social-reading-discovery/pkg/context"
	"github.com/jzhao23/social-reading-discovery/pkg/metrics"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of delivery attempts per job
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to claim stale pending messages
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is the minimum idle time before claiming a message
	DefaultClaimMinIdle = 60 * time.Second
)

// ProcessorConfig holds configuration for one job kind's processor
type ProcessorConfig struct {
	// Kind is the job kind this processor consumes
	Kind Kind

	// Consumer name (unique per instance)
	ConsumerName string

	// Number of messages to fetch per batch
	BatchSize int64

	// How long to block waiting for new messages
	BlockTimeout time.Duration

	// Maximum delivery attempts before a job is dead lettered
	MaxRetries int

	// How often to check for and claim stale pending messages
	ClaimInterval time.Duration

	// Minimum idle time before claiming a pending message
	ClaimMinIdle time.Duration

	// Number of worker goroutines
	WorkerCount int
}

// DefaultProcessorConfig returns the default configuration for a job kind
func DefaultProcessorConfig(kind Kind) ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return ProcessorConfig{
		Kind:          kind,
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
	}
}

// Processor consumes one job kind from its Redis stream and runs it through
// the handlers. Failed jobs are retried via the pending-entries claim loop
// and dead lettered once they exhaust their attempts.
type Processor struct {
	streams  *redis.Streams
	dlq      *redis.DeadLetterQueue
	handlers *Handlers
	config   ProcessorConfig
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan jobItem

	running bool
	mu      sync.RWMutex
}

type jobItem struct {
	message redis.StreamMessage
	job     *redis.JobMessage
}

func NewProcessor(
	streams *redis.Streams,
	dlq *redis.DeadLetterQueue,
	handlers *Handlers,
	config ProcessorConfig,
	logger ectologger.Logger,
) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		dlq:      dlq,
		handlers: handlers,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		jobsCh:   make(chan jobItem, config.BatchSize*2),
	}
}

// GetName identifies the processor to the startup manager
func (p *Processor) GetName() string {
	return fmt.Sprintf("job-processor-%s", p.config.Kind)
}

func (p *Processor) DependsOn() []string {
	return nil
}

func (p *Processor) stream() string {
	return StreamFor(p.config.Kind)
}

func (p *Processor) group() string {
	return GroupFor(p.config.Kind)
}

// Start starts the processor
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	p.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "jobs.Processor.Start")
	defer span.End()

	p.logger.WithContext(ctx).Infof("Starting job processor: stream=%s group=%s consumer=%s workers=%d",
		p.stream(), p.group(), p.config.ConsumerName, p.config.WorkerCount)

	if err := p.streams.CreateConsumerGroup(ctx, p.stream(), p.group()); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, i)
	}

	wg.Add(1)
	go p.consumeLoop(ctx, &wg)

	wg.Add(1)
	go p.claimLoop(ctx, &wg)

	go func() {
		<-p.stopCh
		close(p.jobsCh)
		wg.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Info("Job processor started")
	return nil
}

// Stop stops the processor gracefully
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Stopping %s job processor...", p.config.Kind)

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Infof("%s job processor stopped gracefully", p.config.Kind)
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warnf("%s job processor shutdown timed out", p.config.Kind)
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the processor is running
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// consumeLoop continuously consumes messages from the stream
func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		messages, err := p.streams.Consume(
			ctx,
			p.stream(),
			p.group(),
			p.config.ConsumerName,
			p.config.BatchSize,
			p.config.BlockTimeout,
		)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			job, err := p.parseJobMessage(msg)
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse job message %s", msg.ID)
				// Ack invalid messages to prevent reprocessing
				if ackErr := p.streams.Ack(ctx, p.stream(), p.group(), msg.ID); ackErr != nil {
					p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack invalid message %s", msg.ID)
				}
				metrics.RecordDLQJob(string(p.config.Kind), string(models.DLQReasonInvalidJob))
				continue
			}

			select {
			case p.jobsCh <- jobItem{message: msg, job: job}:
			case <-p.stopCh:
				return
			}
		}
	}
}

// claimLoop periodically claims stale pending messages
func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.claimPendingMessages(ctx)
		}
	}
}

// claimIdleFor scales redelivery delay exponentially with the delivery
// count: the first retry waits ClaimMinIdle, the second twice that, and
// so on.
func (p *Processor) claimIdleFor(retryCount int64) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return p.config.ClaimMinIdle << (retryCount - 1)
}

func (p *Processor) claimPendingMessages(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Processor.claimPendingMessages")
	defer span.End()

	pending, err := p.streams.Pending(ctx, p.stream(), p.group(), p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to get pending messages")
		return
	}

	if len(pending) == 0 {
		return
	}

	var staleIDs []string
	for _, msg := range pending {
		if msg.Idle < p.claimIdleFor(msg.RetryCount) {
			continue
		}
		if msg.RetryCount <= int64(p.config.MaxRetries) {
			staleIDs = append(staleIDs, msg.ID)
		} else {
			p.logger.WithContext(ctx).Warnf("Message %s exceeded max retries (%d), moving to DLQ", msg.ID, msg.RetryCount)
			p.moveToDLQ(ctx, msg.ID, int(msg.RetryCount), models.DLQReasonMaxRetries, "exceeded maximum retry count")
		}
	}

	if len(staleIDs) == 0 {
		return
	}

	p.logger.WithContext(ctx).Infof("Claiming %d stale pending messages", len(staleIDs))

	claimed, err := p.streams.Claim(ctx, p.stream(), p.group(), p.config.ConsumerName, p.config.ClaimMinIdle, staleIDs...)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
		return
	}

	for _, msg := range claimed {
		job, err := p.parseJobMessage(msg)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse claimed job message %s", msg.ID)
			continue
		}

		select {
		case p.jobsCh <- jobItem{message: msg, job: job}:
		case <-p.stopCh:
			return
		default:
			// Channel full, the next claim pass will pick it up
		}
	}
}

// worker processes jobs from the channel
func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	for item := range p.jobsCh {
		err := p.processJob(ctx, item)

		switch {
		case err == nil:
			if ackErr := p.streams.Ack(ctx, p.stream(), p.group(), item.message.ID); ackErr != nil {
				p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s", item.message.ID)
			}
		case isNonRetryable(err):
			p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed permanently", item.job.ID)
			p.moveToDLQ(ctx, item.message.ID, item.job.Attempts, models.DLQReasonNonRetryable, err.Error())
		default:
			// Leave unacked; the claim loop redelivers after ClaimMinIdle
			p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed, will be retried", item.job.ID)
		}
	}
}

// processJob processes a single job
func (p *Processor) processJob(ctx context.Context, item jobItem) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Processor.processJob")
	defer span.End()

	start := time.Now()

	ctx = appctx.SetUserID(ctx, item.job.UserID)
	ctx = appctx.SetRequestID(ctx, item.job.ID)

	p.logger.WithContext(ctx).Infof("Processing job %s: type=%s user=%s", item.job.ID, item.job.Type, item.job.UserID)

	metrics.QueueJobsInFlight.Inc()
	defer metrics.QueueJobsInFlight.Dec()

	err := p.handlers.Handle(ctx, item.job)

	duration := time.Since(start)
	if err != nil {
		metrics.RecordQueueJob(item.job.Type, "failed", duration.Seconds())
		p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed after %s", item.job.ID, duration)
		return err
	}

	metrics.RecordQueueJob(item.job.Type, "complete", duration.Seconds())
	p.logger.WithContext(ctx).Infof("Job %s completed successfully in %s", item.job.ID, duration)
	return nil
}

// isNonRetryable reports whether retrying the job could ever succeed.
// Client errors other than throttling are permanent.
func isNonRetryable(err error) bool {
	if errors.Is(err, ErrUnknownJobType) {
		return true
	}
	if httperror.IsHTTPError(err) {
		code := httperror.GetStatusCode(err)
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests
	}
	return false
}

// parseJobMessage parses a stream message into a JobMessage
func (p *Processor) parseJobMessage(msg redis.StreamMessage) (*redis.JobMessage, error) {
	jobBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}

	var job redis.JobMessage
	if err := json.Unmarshal(jobBytes, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job message: %w", err)
	}

	return &job, nil
}

// moveToDLQ moves a failed job to the dead letter queue
func (p *Processor) moveToDLQ(ctx context.Context, messageID string, retryCount int, reason models.DeadLetterReason, errorMsg string) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Processor.moveToDLQ")
	defer span.End()

	messages, err := p.streams.Range(ctx, p.stream(), messageID, messageID)
	if err != nil || len(messages) == 0 {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to get message %s for DLQ", messageID)
		// Still ack to prevent infinite retries
		if ackErr := p.streams.Ack(ctx, p.stream(), p.group(), messageID); ackErr != nil {
			p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack failed message %s", messageID)
		}
		return
	}

	msg := messages[0]
	job, err := p.parseJobMessage(msg)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse message %s for DLQ", messageID)
		if ackErr := p.streams.Ack(ctx, p.stream(), p.group(), messageID); ackErr != nil {
			p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack failed message %s", messageID)
		}
		return
	}

	importID := ""
	if job.Payload != nil {
		if id, ok := job.Payload["import_id"].(string); ok {
			importID = id
		}
	}

	if p.dlq != nil {
		entry := &redis.DLQEntry{
			UserID:       job.UserID,
			JobType:      job.Type,
			ImportID:     importID,
			OriginalJob:  job,
			Reason:       reason,
			ErrorMessage: errorMsg,
			RetryCount:   retryCount,
			TraceID:      tracing.GetTraceID(ctx),
		}

		if _, dlqErr := p.dlq.Add(ctx, entry); dlqErr != nil {
			p.logger.WithContext(ctx).WithError(dlqErr).Errorf("Failed to add job %s to DLQ", job.ID)
		} else {
			metrics.RecordDLQJob(job.Type, string(reason))
		}
	}

	if ackErr := p.streams.Ack(ctx, p.stream(), p.group(), messageID); ackErr != nil {
		p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s after DLQ", messageID)
	}
}
