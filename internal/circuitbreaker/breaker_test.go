package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(3, time.Minute)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errBoom }

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected errBoom, got %v", i+1, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("expected breaker open after %d failures, got %s", 3, b.State())
	}

	if err := b.Call(ctx, fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen while tripped, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errBoom }
	succeed := func(ctx context.Context) error { return nil }

	b.Call(ctx, fail)
	b.Call(ctx, fail)
	b.Call(ctx, succeed)

	if b.State() != Closed {
		t.Fatalf("expected closed after a success, got %s", b.State())
	}

	b.Call(ctx, fail)
	b.Call(ctx, fail)
	if b.State() != Closed {
		t.Fatalf("two failures after a reset should not trip the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAllowsOneTrialAfterRecoveryTimeout(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errBoom }
	succeed := func(ctx context.Context) error { return nil }

	b.Call(ctx, fail)
	if b.State() != Open {
		t.Fatalf("expected open after single failure with threshold 1, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Call(ctx, succeed); err != nil {
		t.Fatalf("trial call after recovery timeout should run fn: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after successful trial call, got %s", b.State())
	}
}

func TestBreaker_FailedTrialReopensImmediately(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errBoom }

	b.Call(ctx, fail)
	time.Sleep(20 * time.Millisecond)

	if err := b.Call(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("trial call should have run fn and returned errBoom, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected reopened after failed trial, got %s", b.State())
	}
}
