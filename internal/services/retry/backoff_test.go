package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func(int) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoBacksOffAndReportsEachRetry(t *testing.T) {
	var sleeps, reported []time.Duration
	var attemptsSeen []int
	err := Do(context.Background(), Config{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		Sleeper:    func(d time.Duration) { sleeps = append(sleeps, d) },
		OnRetry: func(attempt int, _ error, delay time.Duration) {
			attemptsSeen = append(attemptsSeen, attempt)
			reported = append(reported, delay)
		},
	}, func(attempt int) error {
		if attempt < 2 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	for name, got := range map[string][]time.Duration{"sleeps": sleeps, "OnRetry delays": reported} {
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d]: expected %v, got %v", name, i, want[i], got[i])
			}
		}
	}
	if len(attemptsSeen) != 2 || attemptsSeen[0] != 0 || attemptsSeen[1] != 1 {
		t.Errorf("expected OnRetry for attempts [0 1], got %v", attemptsSeen)
	}
}

func TestDoHonorsShouldRetry(t *testing.T) {
	attempts := 0
	fatal := errors.New("invalid_access_token")
	err := Do(context.Background(), Config{
		MaxRetries:  5,
		ShouldRetry: func(err error) bool { return !errors.Is(err, fatal) },
		Sleeper:     func(time.Duration) {},
	}, func(int) error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retries, got %d attempts", attempts)
	}
}

func TestDoDelayFunc(t *testing.T) {
	tests := []struct {
		name       string
		delay      func(attempt int) time.Duration
		wantSleeps []time.Duration
	}{
		{
			name:       "overrides backoff",
			delay:      func(attempt int) time.Duration { return time.Duration(attempt+1) * time.Second },
			wantSleeps: []time.Duration{1 * time.Second, 2 * time.Second},
		},
		{
			name:       "negative skips the sleep",
			delay:      func(int) time.Duration { return -1 },
			wantSleeps: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sleeps []time.Duration
			attempts := 0
			err := Do(context.Background(), Config{
				MaxRetries: 3,
				DelayFunc:  func(attempt int, _ error) time.Duration { return tt.delay(attempt) },
				Sleeper:    func(d time.Duration) { sleeps = append(sleeps, d) },
			}, func(int) error {
				attempts++
				if attempts < 3 {
					return errors.New("503")
				}
				return nil
			})
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if len(sleeps) != len(tt.wantSleeps) {
				t.Fatalf("expected sleeps %v, got %v", tt.wantSleeps, sleeps)
			}
			for i := range sleeps {
				if sleeps[i] != tt.wantSleeps[i] {
					t.Errorf("sleep %d: expected %v, got %v", i, tt.wantSleeps[i], sleeps[i])
				}
			}
		})
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{
		MaxRetries: 2,
		Sleeper:    func(time.Duration) {},
	}, func(attempt int) error {
		attempts++
		return &kindErr{kind: KindTransientNetwork, after: time.Duration(attempt)}
	})
	var last *kindErr
	if !errors.As(err, &last) || last.after != 1 {
		t.Fatalf("expected the error of the second attempt, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	t.Run("before the next attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := Do(ctx, Config{MaxRetries: 5, Sleeper: func(time.Duration) {}}, func(int) error {
			attempts++
			cancel()
			return errors.New("fail")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected stop after first attempt, got %d", attempts)
		}
	})

	t.Run("during the backoff sleep", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		start := time.Now()
		err := Do(ctx, Config{MaxRetries: 2, BaseDelay: time.Hour}, func(int) error {
			return errors.New("fail")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("backoff sleep ignored cancellation, took %v", elapsed)
		}
	})
}

func TestRetryAfterDelay(t *testing.T) {
	fallback := 2 * time.Second
	tests := []struct {
		name   string
		header string
		min    time.Duration
		max    time.Duration
	}{
		{"empty", "", fallback, fallback},
		{"seconds", "10", 10 * time.Second, 10 * time.Second},
		{"zero seconds", "0", 0, 0},
		{"http date", time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat), 1 * time.Second, 4 * time.Second},
		{"past http date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0, 0},
		{"invalid", "not-a-date", fallback, fallback},
		{"negative", "-5", fallback, fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetryAfterDelay(tt.header, fallback)
			if got < tt.min || got > tt.max {
				t.Errorf("RetryAfterDelay(%q) = %v, expected between %v and %v", tt.header, got, tt.min, tt.max)
			}
		})
	}
}
