package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildcache/internal/metrics"
)

const (
	defaultMaxAttempts = 5
	rateLimitFallback  = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// Executor wraps upstream API calls in a uniform retry policy. It carries
// no state across calls; the sleep function is swappable for tests.
type Executor struct {
	maxAttempts int
	sleep       func(context.Context, time.Duration)
}

// NewExecutor creates an executor with the default attempt budget.
func NewExecutor() *Executor {
	return &Executor{
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Do runs op under the executor's retry policy and reports whether it
// eventually succeeded. tag identifies the call in logs only.
//
// Failure classification, in priority order:
//   - unknown message: the resource is permanently gone, skip without retry
//   - unknown channel: the container is permanently gone, abandon without retry
//   - rate limited: wait out the upstream-suggested delay, then retry
//   - anything else: exponential backoff, bounded by the attempt budget
func Do[T any](ctx context.Context, ex *Executor, tag string, op func() (T, error)) (T, bool) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op()
		if err == nil {
			metrics.UpstreamCalls.WithLabelValues("success").Inc()
			return result, true
		}

		switch restErrorCode(err) {
		case discordgo.ErrCodeUnknownMessage:
			slog.Warn("Message no longer exists, skipping", "operation", tag)
			metrics.UpstreamCalls.WithLabelValues("skipped").Inc()
			return zero, false
		case discordgo.ErrCodeUnknownChannel:
			slog.Warn("Channel or thread no longer exists, abandoning", "operation", tag)
			metrics.UpstreamCalls.WithLabelValues("skipped").Inc()
			return zero, false
		}

		if attempt+1 >= ex.maxAttempts {
			slog.Error("Upstream call failed after retries",
				"operation", tag,
				"attempts", ex.maxAttempts,
				"error", err)
			metrics.UpstreamCalls.WithLabelValues("failed").Inc()
			return zero, false
		}

		var rateLimit *discordgo.RateLimitError
		if errors.As(err, &rateLimit) {
			wait := rateLimit.RetryAfter
			if wait <= 0 {
				wait = rateLimitFallback
			}
			slog.Warn("Rate limited by upstream",
				"operation", tag,
				"retry_after", wait)
			metrics.UpstreamRetries.Inc()
			ex.sleep(ctx, wait)
			continue
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		slog.Warn("Upstream call failed, retrying",
			"operation", tag,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)
		metrics.UpstreamRetries.Inc()
		ex.sleep(ctx, backoff)
	}
}

// doUnit adapts error-only upstream calls to the executor.
func doUnit(ctx context.Context, ex *Executor, tag string, op func() error) bool {
	_, ok := Do(ctx, ex, tag, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return ok
}

// restErrorCode extracts the upstream JSON error code, or zero if the
// error is not a REST error.
func restErrorCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}
