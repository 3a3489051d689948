// Package dispatch rate-limits outbound platform sends.
//
// Every epoch the queue is drained once: at most globalCap entries are
// admitted in total and at most perKeyCap per key (chat). The rest are
// re-queued after any entries that arrived during the drain. The ticker
// runs only while the queue is non-empty.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
)

const (
	DefaultGlobalCap = 25
	DefaultPerKeyCap = 1
	DefaultEpoch     = 1200 * time.Millisecond
)

// ErrClosed is returned for entries still queued when the dispatcher closes.
var ErrClosed = errors.New("dispatcher closed")

type outcome struct {
	msg *bus.SentMessage
	err error
}

type entry struct {
	ctx     context.Context
	key     int64
	payload string
	opts    channels.SendOptions
	result  chan outcome
}

// Dispatcher queues sends and releases them under the epoch caps.
// It implements channels.Sender.
type Dispatcher struct {
	sender    channels.Sender
	globalCap int
	perKeyCap int
	epoch     time.Duration

	mu        sync.Mutex
	queue     []*entry
	running   bool
	closed    bool
	nextDrain time.Time // earliest start of the next epoch
	stop      chan struct{}

	loop  sync.WaitGroup
	sends sync.WaitGroup
}

type Option func(*Dispatcher)

func WithGlobalCap(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.globalCap = n
		}
	}
}

func WithPerKeyCap(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.perKeyCap = n
		}
	}
}

func WithEpoch(epoch time.Duration) Option {
	return func(d *Dispatcher) {
		if epoch > 0 {
			d.epoch = epoch
		}
	}
}

func New(sender channels.Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:    sender,
		globalCap: DefaultGlobalCap,
		perKeyCap: DefaultPerKeyCap,
		epoch:     DefaultEpoch,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit enqueues one send and blocks until it completes, fails, or ctx is
// done. Send errors are returned unchanged; nothing is retried here.
func (d *Dispatcher) Submit(ctx context.Context, key int64, payload string, opts channels.SendOptions) (*bus.SentMessage, error) {
	e := &entry{
		ctx:     ctx,
		key:     key,
		payload: payload,
		opts:    opts,
		result:  make(chan outcome, 1),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.queue = append(d.queue, e)
	if !d.running {
		d.running = true
		d.loop.Add(1)
		go d.run()
	}
	d.mu.Unlock()

	select {
	case r := <-e.result:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendText makes Dispatcher a channels.Sender.
func (d *Dispatcher) SendText(ctx context.Context, chatID int64, text string, opts channels.SendOptions) (*bus.SentMessage, error) {
	return d.Submit(ctx, chatID, text, opts)
}

func (d *Dispatcher) run() {
	defer d.loop.Done()

	// A restart inside the previous epoch waits for it to end so the caps
	// hold across idle periods.
	d.mu.Lock()
	wait := time.Until(d.nextDrain)
	d.mu.Unlock()
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		}
	}

	ticker := time.NewTicker(d.epoch)
	defer ticker.Stop()

	for {
		if !d.drainOnce() {
			return
		}
		select {
		case <-ticker.C:
		case <-d.stop:
			return
		}
	}
}

// drainOnce runs one epoch and reports whether entries remain queued. When
// none remain the dispatcher is marked idle so the next Submit restarts it.
func (d *Dispatcher) drainOnce() bool {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.nextDrain = time.Now().Add(d.epoch)
	d.mu.Unlock()

	global := 0
	perKey := make(map[int64]int)
	var admitted, deferred []*entry
	for _, e := range batch {
		if err := e.ctx.Err(); err != nil {
			e.result <- outcome{err: err}
			continue
		}
		if global < d.globalCap && perKey[e.key] < d.perKeyCap {
			global++
			perKey[e.key]++
			admitted = append(admitted, e)
			continue
		}
		deferred = append(deferred, e)
	}

	for _, e := range admitted {
		d.sends.Add(1)
		go d.send(e)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		for _, e := range deferred {
			e.result <- outcome{err: ErrClosed}
		}
		return false
	}
	d.queue = append(d.queue, deferred...)
	pending := len(d.queue) > 0
	if !pending {
		d.running = false
	}
	d.mu.Unlock()

	if len(batch) > 0 {
		slog.Debug("dispatch: epoch drained", "admitted", len(admitted), "deferred", len(deferred))
	}
	return pending
}

func (d *Dispatcher) send(e *entry) {
	defer d.sends.Done()
	msg, err := d.sender.SendText(e.ctx, e.key, e.payload, e.opts)
	e.result <- outcome{msg: msg, err: err}
}

// Pending returns the number of queued entries.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the ticker, fails queued entries with ErrClosed and waits for
// in-flight sends to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.queue
	d.queue = nil
	close(d.stop)
	d.mu.Unlock()

	for _, e := range pending {
		e.result <- outcome{err: ErrClosed}
	}
	d.loop.Wait()
	d.sends.Wait()
}
