package backoff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky dependency")

// fastPolicy keeps retry tests quick without zeroing out the sleep
// path entirely.
var fastPolicy = Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

func TestRetryFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy, 3, func(attempt int) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls, want %q after 1", got, calls, "ok")
	}
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy, 5, func(attempt int) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return attempt, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != 3 {
		t.Errorf("value = %d, want the succeeding attempt number 3", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, 3, func(int) (string, error) {
		calls++
		return "", errFlaky
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("error %v should wrap the last failure", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error %q should name the attempt count", err)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	fatal := errors.New("bad credentials")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, 5, func(int) (string, error) {
		calls++
		return "", Permanent(fatal)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after a permanent failure)", calls)
	}
	if err != fatal {
		t.Errorf("error = %v, want the unwrapped permanent cause", err)
	}
}

func TestRetryPassesAttemptNumbers(t *testing.T) {
	var seen []int
	_, _ = Retry(context.Background(), fastPolicy, 3, func(attempt int) (struct{}, error) {
		seen = append(seen, attempt)
		return struct{}{}, errFlaky
	})
	want := []int{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("attempts = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("attempt %d = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestRetryZeroBudgetMeansOneAttempt(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, 0, func(int) (string, error) {
		calls++
		return "", errFlaky
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("error = %v", err)
	}
}

func TestRetryStopsWhenContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, fastPolicy, 3, func(int) (string, error) {
		calls++
		return "ok", nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryStopsDuringBackoffSleep(t *testing.T) {
	slow := Policy{Base: time.Minute, Max: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, slow, 3, func(int) (string, error) {
			return "", errFlaky
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestPermanentNilStaysNil(t *testing.T) {
	if err := Permanent(nil); err != nil {
		t.Errorf("Permanent(nil) = %v", err)
	}
}

func TestPermanentErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Permanent(cause)
	if !errors.Is(err, cause) {
		t.Errorf("Permanent should wrap its cause")
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
