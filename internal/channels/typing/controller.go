// Package typing runs a typing indicator keepalive for the lifetime of one exchange.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// KeepaliveInterval is how often StartFn is re-invoked. Telegram's typing
	// status expires after ~5s.
	KeepaliveInterval time.Duration

	// MaxDuration auto-stops the controller so a missed Stop never leaves the
	// indicator running forever. 0 = no limit.
	MaxDuration time.Duration

	// StartFn sends one typing action.
	StartFn func(ctx context.Context) error
}

// Controller sends a typing indicator immediately and then on every keepalive
// tick until Stop is called or MaxDuration elapses.
type Controller struct {
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a stopped controller.
func New(opts Options) *Controller {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 4 * time.Second
	}
	return &Controller{opts: opts, done: make(chan struct{})}
}

// Start begins the keepalive loop. It returns immediately.
func (c *Controller) Start(ctx context.Context) {
	var loopCtx context.Context
	if c.opts.MaxDuration > 0 {
		loopCtx, c.cancel = context.WithTimeout(ctx, c.opts.MaxDuration)
	} else {
		loopCtx, c.cancel = context.WithCancel(ctx)
	}

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.opts.KeepaliveInterval)
		defer ticker.Stop()

		c.fire(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				c.fire(loopCtx)
			}
		}
	}()
}

func (c *Controller) fire(ctx context.Context) {
	if c.opts.StartFn == nil {
		return
	}
	if err := c.opts.StartFn(ctx); err != nil && ctx.Err() == nil {
		slog.Debug("typing indicator failed", "error", err)
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once
// and before Start.
func (c *Controller) Stop() {
	c.once.Do(func() {
		if c.cancel == nil {
			close(c.done)
			return
		}
		c.cancel()
		<-c.done
	})
}
