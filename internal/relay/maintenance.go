package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/chatrelay/internal/delivery"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
)

// Maintenance flushes every live session checkpoint on a cron schedule and
// once more on shutdown.
type Maintenance struct {
	sessions *sessions.Manager
	schedule string
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
}

// NewMaintenance validates schedule, a five-field cron expression.
func NewMaintenance(m *sessions.Manager, schedule string) (*Maintenance, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid flush schedule %q", schedule)
	}
	return &Maintenance{sessions: m, schedule: schedule, now: time.Now, wait: delivery.Sleep}, nil
}

// Run flushes on every tick until ctx ends, then flushes a final time.
func (m *Maintenance) Run(ctx context.Context) error {
	for {
		now := m.now()
		next, err := gronx.NextTickAfter(m.schedule, now, false)
		if err != nil {
			return fmt.Errorf("flush schedule: %w", err)
		}
		if err := m.wait(ctx, next.Sub(now)); err != nil {
			break
		}
		m.Flush(ctx)
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	m.Flush(flushCtx)
	return nil
}

// Flush persists all live sessions, logging failures.
func (m *Maintenance) Flush(ctx context.Context) {
	if err := m.sessions.FlushAll(ctx); err != nil {
		slog.Warn("relay: checkpoint flush incomplete", "error", err)
		return
	}
	slog.Debug("relay: checkpoints flushed", "sessions", m.sessions.Len())
}
