package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success", 0, nil, 1, false},
		{"transient then success", 2, errTransient, 3, false},
		{"exhausted", 10, errTransient, 3, true},
		{"not found is final", 10, fmt.Errorf("load: %w", store.ErrNotFound), 1, true},
		{"core error is final", 10, validationError("bad"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := testRetry.Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Fatalf("expected wrapped %v, got %v", tt.err, err)
			}
		})
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := testRetry.Do(ctx, func() error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls > 1 {
		t.Fatalf("cancelled context should stop retries, got %d calls", calls)
	}
}
