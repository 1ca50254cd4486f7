package models

// DeadLetterReason explains why a job landed in the dead letter queue
type DeadLetterReason string

const (
	DLQReasonMaxRetries   DeadLetterReason = "max_retries"
	DLQReasonInvalidJob   DeadLetterReason = "invalid_job"
	DLQReasonUnknownType  DeadLetterReason = "unknown_type"
	DLQReasonNonRetryable DeadLetterReason = "non_retryable"
)
