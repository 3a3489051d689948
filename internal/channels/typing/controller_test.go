package typing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestController_FiresImmediatelyAndStops(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	c.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	c.Stop()

	got := calls.Load()
	if got < 2 {
		t.Fatalf("expected at least 2 typing calls, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if after := calls.Load(); after != got {
		t.Fatalf("typing continued after Stop: %d -> %d", got, after)
	}
}

func TestController_StopBeforeStart(t *testing.T) {
	c := New(Options{})
	c.Stop()
	c.Stop()
}

func TestController_MaxDuration(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		KeepaliveInterval: 5 * time.Millisecond,
		MaxDuration:       20 * time.Millisecond,
		StartFn: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	})
	c.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	got := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != got {
		t.Fatal("typing continued past MaxDuration")
	}
	c.Stop()
}
