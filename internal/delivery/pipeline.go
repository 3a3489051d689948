// Package delivery sends completed replies to the chat platform: overflow
// handoff, chunking, per-chunk retry and failure classification.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
	"github.com/nextlevelbuilder/chatrelay/internal/telegraph"
)

const (
	// MaxChunkRunes is the largest payload sent as one message.
	MaxChunkRunes = 4000
	// OverflowThreshold is the reply length above which the full text is
	// also published to the overflow sink.
	OverflowThreshold = 4000

	attemptsPerPhase = 3

	DefaultRetryDelay = 5 * time.Second
	DefaultPacing     = 5 * time.Second
)

const (
	noticeTooLong       = "Message too long for Telegram."
	noticeEmptyText     = "Model produced no output."
	noticeAccountFailed = "Tried to create Telegraph account for you, but failed. Cannot give you a telegraph."
	noticePageFailed    = "Tried to create Telegraph page for you, but failed. Cannot give you a telegraph."
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/chatrelay/internal/delivery")

// OverflowSink publishes a full reply and returns a link to it.
type OverflowSink interface {
	Publish(ctx context.Context, s *sessions.Session, content string) (string, error)
}

// Notifier sends short-lived notices to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string, replyTo int)
}

// Target addresses one delivery.
type Target struct {
	ChatID      int64
	ReplyTo     int    // message to link chunks to; 0 = none
	ChunkPrefix string // prepended to every chunk
}

// Report summarizes a delivery.
type Report struct {
	Chunks      int
	Delivered   int
	Failed      []int     // indexes of chunks that exhausted every attempt
	Aborted     ErrorKind // KindUnknown unless delivery stopped early
	OverflowURL string
}

// Pipeline delivers replies through a Sender, normally the Dispatcher.
type Pipeline struct {
	sender     channels.Sender
	sink       OverflowSink
	notifier   Notifier
	sleep      func(ctx context.Context, d time.Duration) error
	retryDelay time.Duration
	pacing     time.Duration
}

type Option func(*Pipeline)

func WithOverflowSink(sink OverflowSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithSleep replaces the wait used between attempts and after a delivery.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.retryDelay = d }
}

func WithPacing(d time.Duration) Option {
	return func(p *Pipeline) { p.pacing = d }
}

func New(sender channels.Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		sender:     sender,
		sleep:      Sleep,
		retryDelay: DefaultRetryDelay,
		pacing:     DefaultPacing,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Deliver sends text to target on behalf of s. Every delivered chunk becomes
// the session's last message. Send failures are reported, not returned; the
// error is non-nil only when ctx ends.
func (p *Pipeline) Deliver(ctx context.Context, s *sessions.Session, target Target, text string) (Report, error) {
	ctx, span := tracer.Start(ctx, "delivery.Deliver", trace.WithAttributes(
		attribute.Int64("chat.id", target.ChatID),
		attribute.Int("text.runes", utf8.RuneCountInString(text)),
	))
	defer span.End()

	var report Report
	out := text
	if utf8.RuneCountInString(text) > OverflowThreshold && p.sink != nil {
		url, err := p.sink.Publish(ctx, s, text)
		if err != nil {
			slog.Warn("delivery: overflow publish failed", "chat_id", target.ChatID, "error", err)
			notice := noticePageFailed
			if errors.Is(err, telegraph.ErrAccountSetup) {
				notice = noticeAccountFailed
			}
			p.notify(ctx, target.ChatID, notice, target.ReplyTo)
		} else {
			report.OverflowURL = url
			out += "\n\n" + url
		}
	}

	size := MaxChunkRunes - utf8.RuneCountInString(target.ChunkPrefix)
	chunks := Chunk(out, size)
	report.Chunks = len(chunks)

loop:
	for i, chunk := range chunks {
		res, err := p.sendChunk(ctx, target, target.ChunkPrefix+chunk)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
		switch {
		case res.sent != nil:
			s.SetLastMessage(res.sent)
			report.Delivered++
		case res.kind != KindUnknown:
			report.Aborted = res.kind
			p.notify(ctx, target.ChatID, abortNotice(res.kind, report.OverflowURL), res.replyTo)
			break loop
		default:
			slog.Error("delivery: chunk not delivered", "chat_id", target.ChatID, "chunk", i)
			report.Failed = append(report.Failed, i)
		}
	}

	span.SetAttributes(
		attribute.Int("chunks", report.Chunks),
		attribute.Int("delivered", report.Delivered),
		attribute.Int("failed", len(report.Failed)),
	)
	if report.Aborted != KindUnknown {
		span.SetStatus(codes.Error, report.Aborted.String())
	}

	if err := p.sleep(ctx, p.pacing); err != nil {
		return report, err
	}
	return report, nil
}

type chunkResult struct {
	sent    *bus.SentMessage
	kind    ErrorKind
	replyTo int
}

// sendChunk tries attemptsPerPhase sends linked to the reply target, then
// attemptsPerPhase without the link. A classified failure stops at once.
func (p *Pipeline) sendChunk(ctx context.Context, target Target, payload string) (chunkResult, error) {
	for phase, replyTo := range []int{target.ReplyTo, 0} {
		if phase == 1 {
			slog.Info("delivery: retrying chunk without reply link", "chat_id", target.ChatID)
		}
		for attempt := 1; attempt <= attemptsPerPhase; attempt++ {
			sent, err := p.sender.SendText(ctx, target.ChatID, payload, channels.SendOptions{
				ReplyToMessageID:      replyTo,
				DisableWebPagePreview: true,
				DisableNotification:   true,
			})
			if err == nil {
				return chunkResult{sent: sent}, nil
			}
			if ctx.Err() != nil {
				return chunkResult{}, ctx.Err()
			}
			if kind := Classify(err); kind != KindUnknown {
				return chunkResult{kind: kind, replyTo: replyTo}, nil
			}
			slog.Warn("delivery: send failed", "chat_id", target.ChatID, "attempt", attempt, "with_reply", replyTo != 0, "error", err)
			if err := p.sleep(ctx, p.retryDelay); err != nil {
				return chunkResult{}, err
			}
		}
	}
	return chunkResult{}, nil
}

func abortNotice(kind ErrorKind, url string) string {
	if kind == KindEmptyText {
		return noticeEmptyText
	}
	if url != "" {
		return noticeTooLong + " Go here: " + url
	}
	return noticeTooLong
}

func (p *Pipeline) notify(ctx context.Context, chatID int64, text string, replyTo int) {
	if p.notifier == nil {
		slog.Info("delivery: notice dropped, no notifier", "chat_id", chatID, "text", text)
		return
	}
	p.notifier.Notify(ctx, chatID, text, replyTo)
}

// Sleep waits d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
