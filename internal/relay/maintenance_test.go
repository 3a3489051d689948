package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
	"github.com/nextlevelbuilder/chatrelay/internal/store/file"
)

func TestNewMaintenance_RejectsBadSchedule(t *testing.T) {
	if _, err := NewMaintenance(sessions.NewManager(nil, nil, nil), "every five minutes"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMaintenance_FlushesOnTickAndShutdown(t *testing.T) {
	st, err := file.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := sessions.NewManager(st, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := mgr.Get(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}

	m, err := NewMaintenance(mgr, "*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC) }

	var waits []time.Duration
	ticks := 0
	m.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		ticks++
		if ticks == 2 {
			// Second wait: a new session appears, then shutdown.
			if _, err := mgr.Get(ctx, 3, 4); err != nil {
				t.Error(err)
			}
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(waits) != 2 || waits[0] != 3*time.Minute {
		t.Fatalf("waits = %v, want first wait 3m", waits)
	}

	keys, err := st.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("stored keys = %v, want both sessions", keys)
	}
}
