package http

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestRateLimiterRefill(t *testing.T) {
	clk := clock.NewMock()
	rl := newRateLimiter(2, clk)

	if !rl.allow() || !rl.allow() {
		t.Fatalf("burst of two frames should pass")
	}
	if rl.allow() {
		t.Fatalf("third frame should be limited")
	}

	// Two per minute refills one token every thirty seconds.
	clk.Add(10 * time.Second)
	if rl.allow() {
		t.Fatalf("token should not be back after ten seconds")
	}
	clk.Add(21 * time.Second)
	if !rl.allow() {
		t.Fatalf("one token should be back after thirty seconds")
	}
	if rl.allow() {
		t.Fatalf("only one token should have refilled")
	}

	clk.Add(time.Hour)
	if !rl.allow() || !rl.allow() || rl.allow() {
		t.Fatalf("bucket should refill to the burst and no further")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, nil)
	for i := 0; i < 1000; i++ {
		if !rl.allow() {
			t.Fatalf("disabled limiter must always allow")
		}
	}
}
