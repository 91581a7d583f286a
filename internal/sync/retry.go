package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/waregrid/picksync/internal/remote"
)

// RetryExhaustedError marks a push item that failed every attempt this cycle.
// It carries the item identity so the orchestrator can report it without
// aborting the rest of the batch.
type RetryExhaustedError struct {
	TaskID   string
	ItemDesc string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted for %s (task %s) after %d attempts: %v",
		e.ItemDesc, e.TaskID, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// retryPolicy holds the backoff knobs for one push item.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// withRetry runs fn with exponential backoff: baseDelay, doubling, capped at
// maxDelay, up to maxAttempts total. Server rejections are terminal
// immediately; retrying an action the server refused will not change its
// mind. Context cancellation stops the attempt loop between tries.
func withRetry(ctx context.Context, policy retryPolicy, taskID, itemDesc string, fn func() error) error {
	delay := policy.baseDelay
	var lastErr error

	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if remote.IsRejection(lastErr) {
			return lastErr
		}
		if attempt == policy.maxAttempts {
			break
		}

		log.Printf("⏳ Retry %d/%d for %s (task %s) in %v: %v",
			attempt, policy.maxAttempts, itemDesc, taskID, delay, lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > policy.maxDelay {
			delay = policy.maxDelay
		}
	}

	return &RetryExhaustedError{
		TaskID:   taskID,
		ItemDesc: itemDesc,
		Attempts: policy.maxAttempts,
		Last:     lastErr,
	}
}
