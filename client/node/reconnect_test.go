package node

import (
	"testing"
	"time"
)

func TestExponentialBackoffDelays(t *testing.T) {
	strategy := NewExponentialBackoff()
	lostAt := time.Now()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{50, 60 * time.Second},
	}

	for _, tt := range tests {
		delay, retry := strategy.NextDelay(lostAt, tt.attempt)
		if !retry {
			t.Fatalf("attempt %d: strategy gave up", tt.attempt)
		}
		if delay != tt.want {
			t.Errorf("attempt %d: expected delay %s, got %s", tt.attempt, tt.want, delay)
		}
	}
}

func TestExponentialBackoffNeverGivesUp(t *testing.T) {
	strategy := NewExponentialBackoff()
	lostAt := time.Now().Add(-24 * time.Hour)

	for attempt := 1; attempt <= 1000; attempt += 137 {
		if _, retry := strategy.NextDelay(lostAt, attempt); !retry {
			t.Fatalf("attempt %d: strategy gave up", attempt)
		}
	}
}

func TestNoReconnect(t *testing.T) {
	var strategy NoReconnect
	if _, retry := strategy.NextDelay(time.Now(), 1); retry {
		t.Error("expected NoReconnect to give up on the first attempt")
	}
}
