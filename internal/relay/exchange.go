package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/channels/typing"
	"github.com/nextlevelbuilder/chatrelay/internal/commands"
	"github.com/nextlevelbuilder/chatrelay/internal/delivery"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
)

var errEmptyReply = errors.New("backend returned an empty reply")

// turn is the input of one exchange: a tracked prompt or a one-shot
// verbatim completion.
type turn struct {
	prompt   string
	verbatim *commands.Verbatim
}

func (t turn) mode() sessions.Mode {
	if t.verbatim != nil {
		return sessions.ModeVerbatim
	}
	return sessions.ModeChat
}

// exchange completes t and delivers the reply, retrying up to r.attempts
// times. A finished delivery ends the exchange even when chunks failed;
// those were already retried by the pipeline.
func (r *Relay) exchange(ctx context.Context, msg bus.InboundMessage, s *sessions.Session, t turn) {
	if !s.TryBeginWork() {
		slog.Debug("relay: session busy, message dropped", "chat_id", msg.ChatID, "user_id", msg.UserID)
		return
	}

	runID := fmt.Sprintf("inbound-%d-%s", msg.ChatID, uuid.NewString()[:8])
	ctx, span := tracer.Start(ctx, "relay.exchange", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int64("chat.id", msg.ChatID),
		attribute.Int64("user.id", msg.UserID),
		attribute.String("mode", string(t.mode())),
		attribute.String("backend", s.Backend().String()),
	))
	defer span.End()

	defer func() {
		s.EndWork()
		r.persist(ctx, s)
	}()

	typer := typing.New(typing.Options{
		KeepaliveInterval: r.typingInterval,
		MaxDuration:       maxTypingRuntime,
		StartFn: func(ctx context.Context) error {
			return r.Platform.SendTyping(ctx, msg.ChatID)
		},
	})
	typer.Start(ctx)
	defer typer.Stop()

	target := delivery.Target{ChatID: msg.ChatID, ReplyTo: replyTarget(msg)}
	if t.verbatim != nil {
		target.ChunkPrefix = t.verbatim.ChunkPrefix
	}

	slog.Debug("relay: exchange started", "run_id", runID, "chat_id", msg.ChatID, "user_id", msg.UserID, "mode", t.mode())

	var reply string
	for attempt := 1; ; attempt++ {
		report, err := r.attempt(ctx, s, t, target, &reply)
		if err == nil {
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.Int("chunks.delivered", report.Delivered),
				attribute.Int("chunks.failed", len(report.Failed)),
			)
			if len(report.Failed) > 0 {
				slog.Warn("relay: chunks dropped", "run_id", runID, "delivered", report.Delivered, "failed", report.Failed)
			}
			return
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return
		}

		var ce *providers.CompletionError
		if errors.As(err, &ce) {
			span.RecordError(err)
			span.SetStatus(codes.Error, ce.Reason)
			slog.Warn("relay: completion failed", "run_id", runID, "provider", ce.Provider, "error", err)
			r.Notices.Notify(ctx, msg.ChatID, "Error: "+ce.Reason, target.ReplyTo)
			return
		}

		slog.Warn("relay: exchange attempt failed", "run_id", runID, "attempt", attempt, "error", err)
		if attempt >= r.attempts {
			span.SetStatus(codes.Error, "attempts exhausted")
			slog.Warn("relay: exchange abandoned", "run_id", runID, "attempts", attempt)
			return
		}
		if err := r.sleep(ctx, r.attemptDelay); err != nil {
			return
		}
	}
}

// attempt runs one pass: complete unless a reply is already cached, then
// deliver. reply is filled on the first successful completion. A nil error
// means the pipeline ran to completion; the report says what reached the chat.
func (r *Relay) attempt(ctx context.Context, s *sessions.Session, t turn, target delivery.Target, reply *string) (delivery.Report, error) {
	if *reply == "" {
		text, err := r.complete(ctx, s, t)
		if err != nil {
			return delivery.Report{}, err
		}
		if text == "" {
			return delivery.Report{}, errEmptyReply
		}
		*reply = text
	}
	return r.Pipeline.Deliver(ctx, s, target, *reply)
}

func (r *Relay) complete(ctx context.Context, s *sessions.Session, t turn) (string, error) {
	if t.verbatim != nil {
		return s.Complete(ctx, t.verbatim.Text(), t.verbatim.Temperature)
	}
	return s.Send(ctx, t.prompt)
}

// rawCompletion sends a pre-formatted prompt to a raw-capable backend and
// replies with the result as a single message.
func (r *Relay) rawCompletion(ctx context.Context, msg bus.InboundMessage, s *sessions.Session, c commands.RawCompletion) {
	if !s.TryBeginWork() {
		return
	}
	defer func() {
		s.EndWork()
		r.persist(ctx, s)
	}()

	if err := r.Platform.SendTyping(ctx, msg.ChatID); err != nil {
		slog.Debug("relay: typing indicator failed", "chat_id", msg.ChatID, "error", err)
	}

	reply, err := r.completeRaw(ctx, s, c)
	if err != nil {
		slog.Warn("relay: raw completion failed", "chat_id", msg.ChatID, "error", err)
		r.Notices.Notify(ctx, msg.ChatID, "Error: "+errorReason(err), replyTarget(msg))
		return
	}

	sent, err := r.Outbound.SendText(ctx, msg.ChatID, reply, channels.SendOptions{
		ReplyToMessageID:      replyTarget(msg),
		DisableWebPagePreview: true,
		DisableNotification:   true,
	})
	if err != nil {
		slog.Warn("relay: raw reply not delivered", "chat_id", msg.ChatID, "error", err)
		r.Notices.Notify(ctx, msg.ChatID, "Error: "+errorReason(err), replyTarget(msg))
		return
	}
	s.SetLastMessage(sent)
	s.SetMode(sessions.ModeRaw)
}

func (r *Relay) completeRaw(ctx context.Context, s *sessions.Session, c commands.RawCompletion) (string, error) {
	if r.Backends == nil {
		return "", &providers.CompletionError{Provider: "raw", Reason: "backend not configured"}
	}
	rc, err := r.Backends.Raw(s.Backend())
	if err != nil {
		return "", &providers.CompletionError{Provider: "raw", Reason: "backend not configured", Err: err}
	}
	return rc.CompleteRaw(ctx, c.Prompt, providers.Options{Temperature: c.Temperature})
}

// errorReason is the user-facing part of err.
func errorReason(err error) string {
	var ce *providers.CompletionError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	if d := channels.Description(err); d != "" {
		return d
	}
	return err.Error()
}
