package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

// recordingExecutor returns an executor whose sleeps are recorded instead
// of performed.
func recordingExecutor(sleeps *[]time.Duration) *Executor {
	return &Executor{
		maxAttempts: defaultMaxAttempts,
		sleep: func(ctx context.Context, d time.Duration) {
			*sleeps = append(*sleeps, d)
		},
	}
}

func restError(code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{Status: "404 Not Found"},
		Message:  &discordgo.APIErrorMessage{Code: code},
	}
}

func rateLimitError(retryAfter time.Duration) error {
	return &discordgo.RateLimitError{
		RateLimit: &discordgo.RateLimit{
			TooManyRequests: &discordgo.TooManyRequests{RetryAfter: retryAfter},
			URL:             "/test",
		},
	}
}

func TestSuccessShortCircuits(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	attempts := 0
	result, ok := Do(context.Background(), ex, "test", func() (string, error) {
		attempts++
		return "value", nil
	})

	if !ok {
		t.Fatal("Expected success")
	}
	if result != "value" {
		t.Errorf("Expected result value, got %q", result)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if len(sleeps) != 0 {
		t.Errorf("Expected no sleeps, got %v", sleeps)
	}
}

func TestPermanentSkipNoRetry(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{name: "unknown message", code: discordgo.ErrCodeUnknownMessage},
		{name: "unknown channel", code: discordgo.ErrCodeUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sleeps []time.Duration
			ex := recordingExecutor(&sleeps)

			attempts := 0
			_, ok := Do(context.Background(), ex, "test", func() (string, error) {
				attempts++
				return "", restError(tt.code)
			})

			if ok {
				t.Fatal("Expected failure")
			}
			if attempts != 1 {
				t.Errorf("Expected exactly 1 attempt, got %d", attempts)
			}
			if len(sleeps) != 0 {
				t.Errorf("Expected no sleeps, got %v", sleeps)
			}
		})
	}
}

func TestRateLimitRetry(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	attempts := 0
	result, ok := Do(context.Background(), ex, "test", func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", rateLimitError(2 * time.Second)
		}
		return "value", nil
	})

	if !ok || result != "value" {
		t.Fatal("Expected eventual success")
	}
	if attempts != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", attempts)
	}
	if len(sleeps) != 1 {
		t.Fatalf("Expected 1 sleep, got %d", len(sleeps))
	}
	if sleeps[0] < 2*time.Second {
		t.Errorf("Expected delay of at least 2s, got %v", sleeps[0])
	}
}

func TestRateLimitDefaultDelay(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	attempts := 0
	_, ok := Do(context.Background(), ex, "test", func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", rateLimitError(0)
		}
		return "value", nil
	})

	if !ok {
		t.Fatal("Expected eventual success")
	}
	if len(sleeps) != 1 || sleeps[0] != rateLimitFallback {
		t.Errorf("Expected one %v sleep, got %v", rateLimitFallback, sleeps)
	}
}

func TestTransientBackoffExhaustion(t *testing.T) {
	var sleeps []time.Duration
	ex := recordingExecutor(&sleeps)

	attempts := 0
	_, ok := Do(context.Background(), ex, "test", func() (string, error) {
		attempts++
		return "", errors.New("connection reset")
	})

	if ok {
		t.Fatal("Expected failure after retry budget")
	}
	if attempts != defaultMaxAttempts {
		t.Errorf("Expected %d attempts, got %d", defaultMaxAttempts, attempts)
	}

	expected := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sleeps) != len(expected) {
		t.Fatalf("Expected %d sleeps, got %d", len(expected), len(sleeps))
	}
	for i, want := range expected {
		if sleeps[i] != want {
			t.Errorf("Sleep %d: expected %v, got %v", i, want, sleeps[i])
		}
	}
}

func TestBackoffCap(t *testing.T) {
	var sleeps []time.Duration
	ex := &Executor{
		maxAttempts: 8,
		sleep: func(ctx context.Context, d time.Duration) {
			sleeps = append(sleeps, d)
		},
	}

	Do(context.Background(), ex, "test", func() (string, error) {
		return "", errors.New("still broken")
	})

	for _, d := range sleeps {
		if d > maxBackoff {
			t.Errorf("Backoff %v exceeds cap %v", d, maxBackoff)
		}
	}
}
