// Package relay routes inbound chat messages to commands and conversation
// exchanges, and delivers the replies.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nextlevelbuilder/chatrelay/internal/banlist"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/commands"
	"github.com/nextlevelbuilder/chatrelay/internal/delivery"
	"github.com/nextlevelbuilder/chatrelay/internal/personas"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
)

const (
	DefaultAttempts       = 10
	DefaultAttemptDelay   = 3 * time.Second
	DefaultTypingInterval = time.Second

	banNoticeTTL     = 5 * time.Second
	personaListTTL   = 10 * time.Second
	persistTimeout   = 10 * time.Second
	maxTypingRuntime = 10 * time.Minute
)

const (
	noticeDone          = "done."
	noticeNoPersona     = "No such persona."
	noticeNameMissing   = "I can't find your persona name in your persona description, that's probably dumb."
	noticeNoDiagrams    = "Diagram rendering is not supported."
	noticeGroupPersonas = "Persona summaries are hidden in groups, send me a private message.\n\n"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/chatrelay/internal/relay")

// Deps are the collaborators of a Relay. Outbound carries every reply and
// notice, normally through the Dispatcher.
type Deps struct {
	Platform channels.Platform
	Outbound channels.Sender
	Sessions *sessions.Manager
	Personas *personas.Registry
	Backends *providers.Registry
	Pipeline *delivery.Pipeline
	Notices  *Notices
	Bans     *banlist.List
	Limiter  *channels.InboundLimiter
	IsOwner  func(userID int64) bool
}

// Relay handles inbound messages. Each message runs in its own goroutine.
type Relay struct {
	Deps

	attempts       int
	attemptDelay   time.Duration
	typingInterval time.Duration
	defaultPersona string
	sleep          func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

type Option func(*Relay)

// WithAttempts bounds the completion and delivery attempts of one exchange.
func WithAttempts(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func WithAttemptDelay(d time.Duration) Option {
	return func(r *Relay) { r.attemptDelay = d }
}

func WithTypingInterval(d time.Duration) Option {
	return func(r *Relay) { r.typingInterval = d }
}

func WithDefaultPersona(name string) Option {
	return func(r *Relay) {
		if name != "" {
			r.defaultPersona = name
		}
	}
}

// WithSleep replaces the wait between exchange attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Relay) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

func New(d Deps, opts ...Option) *Relay {
	if d.Outbound == nil {
		d.Outbound = d.Platform
	}
	if d.Notices == nil {
		d.Notices = NewNotices(d.Outbound, d.Platform, DefaultNoticeTTL)
	}
	if d.Pipeline == nil {
		d.Pipeline = delivery.New(d.Outbound, delivery.WithNotifier(d.Notices))
	}
	r := &Relay{
		Deps:           d,
		attempts:       DefaultAttempts,
		attemptDelay:   DefaultAttemptDelay,
		typingInterval: DefaultTypingInterval,
		defaultPersona: personas.DefaultName,
		sleep:          delivery.Sleep,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns the inbound callback for channels.Platform.Start.
func (r *Relay) Handler(ctx context.Context) bus.MessageHandler {
	return func(msg bus.InboundMessage) {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Handle(ctx, msg)
		}()
	}
}

// Wait blocks until every in-flight message has been handled.
func (r *Relay) Wait() { r.wg.Wait() }

// Handle processes one inbound message to completion.
func (r *Relay) Handle(ctx context.Context, msg bus.InboundMessage) {
	if r.Limiter != nil && !r.Limiter.Allow(msg.UserID) {
		slog.Debug("relay: sender rate limited", "chat_id", msg.ChatID, "user_id", msg.UserID)
		return
	}

	owner := r.IsOwner != nil && r.IsOwner(msg.UserID)
	cmd := commands.Parse(msg, owner)

	switch c := cmd.(type) {
	case commands.Ban:
		r.updateBans(ctx, msg, c.ID, true)
		return
	case commands.Unban:
		r.updateBans(ctx, msg, c.ID, false)
		return
	}

	if r.Bans != nil && r.Bans.IsBanned(msg.UserID, msg.Username) {
		return
	}
	if cmd == nil {
		return
	}

	s, err := r.Sessions.Get(ctx, msg.ChatID, msg.UserID)
	if err != nil {
		slog.Warn("relay: session unavailable", "chat_id", msg.ChatID, "user_id", msg.UserID, "error", err)
		return
	}

	if commands.Immediate(cmd) {
		r.immediate(ctx, msg, s, cmd)
		return
	}
	if s.Working() {
		slog.Debug("relay: session busy, message dropped", "chat_id", msg.ChatID, "user_id", msg.UserID)
		return
	}

	switch c := cmd.(type) {
	case commands.Help:
		r.send(ctx, msg.ChatID, commands.HelpText, channels.SendOptions{})
	case commands.ListPersonas:
		r.Notices.Send(ctx, msg.ChatID, r.personaListing(msg.IsPrivate()), channels.SendOptions{ParseMode: channels.ParseModeHTML}, personaListTTL)
	case commands.ReloadPersonas:
		if err := r.Personas.Reload(); err != nil {
			slog.Warn("relay: persona reload failed", "error", err)
		}
	case commands.ClearSession:
		r.initPersona(s, r.defaultPersona)
		r.persist(ctx, s)
	case commands.SetPersona:
		r.setPersona(ctx, msg, s, c.Name)
	case commands.CustomPersona:
		r.customPersona(ctx, msg, s, c)
	case commands.Usage:
		r.Notices.Send(ctx, msg.ChatID, c.Text, channels.SendOptions{ReplyToMessageID: replyTarget(msg), ParseMode: c.ParseMode}, DefaultNoticeTTL)
	case commands.Visualize:
		r.Notices.Notify(ctx, msg.ChatID, noticeNoDiagrams, replyTarget(msg))
	case commands.RawCompletion:
		r.rawCompletion(ctx, msg, s, c)
	case commands.Verbatim:
		r.exchange(ctx, msg, s, turn{verbatim: &c})
	case commands.Prompt:
		if c.Reset {
			r.initPersona(s, r.defaultPersona)
			if c.Text == "" {
				r.persist(ctx, s)
				return
			}
		} else if s.Uninitialized() {
			r.initPersona(s, r.defaultPersona)
		}
		r.exchange(ctx, msg, s, turn{prompt: c.Text})
	}
}

// immediate runs the commands that bypass the working flag.
func (r *Relay) immediate(ctx context.Context, msg bus.InboundMessage, s *sessions.Session, cmd commands.Command) {
	switch c := cmd.(type) {
	case commands.UseBackend:
		s.Reset()
		if err := s.WithBackend(c.Selector); err != nil {
			slog.Warn("relay: backend switch failed", "backend", c.Selector.String(), "error", err)
		}
		r.persist(ctx, s)
	case commands.Debug:
		cp, err := r.Sessions.Snapshot(ctx, msg.ChatID, msg.UserID)
		if err != nil {
			slog.Warn("relay: debug snapshot failed", "chat_id", msg.ChatID, "user_id", msg.UserID, "error", err)
			return
		}
		var dump strings.Builder
		enc := json.NewEncoder(&dump)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(cp); err != nil {
			slog.Warn("relay: debug dump failed", "error", err)
			return
		}
		text := strings.TrimRight(dump.String(), "\n")
		r.send(ctx, msg.ChatID, "<pre>"+html.EscapeString(text)+"</pre>", channels.SendOptions{ParseMode: channels.ParseModeHTML})
	case commands.ForceIdle:
		s.ForceIdle()
	}
}

func (r *Relay) updateBans(ctx context.Context, msg bus.InboundMessage, id string, ban bool) {
	if r.Bans == nil {
		return
	}
	var err error
	if ban {
		err = r.Bans.Add(id)
	} else {
		err = r.Bans.Remove(id)
	}
	if err != nil {
		slog.Warn("relay: ban list not saved", "id", id, "error", err)
	}
	slog.Info("relay: ban list updated", "id", id, "banned", ban, "by", msg.UserID)
	r.Notices.Send(ctx, msg.ChatID, noticeDone, channels.SendOptions{}, banNoticeTTL)
}

// personaListing formats the public catalogue. Summaries are shown only in
// private chats.
func (r *Relay) personaListing(private bool) string {
	entries := r.Personas.List(false)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		name := html.EscapeString(e.Name)
		if private {
			parts = append(parts, fmt.Sprintf("<b><i>%s</i></b> (!ctp %s):\n\n<i>%s</i>", name, name, html.EscapeString(e.Summary)))
		} else {
			parts = append(parts, fmt.Sprintf("<i>%s</i> (!ctp %s)", name, name))
		}
	}
	if private {
		return strings.Join(parts, "\n\n")
	}
	return noticeGroupPersonas + strings.Join(parts, ", ")
}

func (r *Relay) setPersona(ctx context.Context, msg bus.InboundMessage, s *sessions.Session, name string) {
	p, ok := r.Personas.Get(name)
	if !ok {
		r.Notices.Notify(ctx, msg.ChatID, noticeNoPersona, 0)
		return
	}
	r.initPersona(s, name)
	r.persist(ctx, s)

	if msg.IsPrivate() {
		text := fmt.Sprintf("Persona set to <i>%s</i>: %s", html.EscapeString(name), html.EscapeString(p.Summary))
		r.Notices.Send(ctx, msg.ChatID, text, channels.SendOptions{ParseMode: channels.ParseModeHTML}, DefaultNoticeTTL)
	}
}

func (r *Relay) customPersona(ctx context.Context, msg bus.InboundMessage, s *sessions.Session, c commands.CustomPersona) {
	if c.NameNotInPersona && !c.Quick {
		r.Notices.Notify(ctx, msg.ChatID, noticeNameMissing, replyTarget(msg))
	}

	s.Reset()
	if err := s.InitCustom(c.Profile); err != nil {
		slog.Warn("relay: custom persona rejected", "chat_id", msg.ChatID, "user_id", msg.UserID, "error", err)
		return
	}
	r.persist(ctx, s)

	text := fmt.Sprintf("Custom persona set! Name: %s Name (other): %s", c.Profile.Name, c.Profile.NameOther)
	r.Notices.Notify(ctx, msg.ChatID, text, replyTarget(msg))
}

// initPersona resets s and seeds it with a catalogue persona.
func (r *Relay) initPersona(s *sessions.Session, name string) {
	s.Reset()
	if err := s.InitProfile(name); err != nil {
		slog.Warn("relay: persona unavailable", "persona", name, "session", s.Key().String(), "error", err)
	}
}

func (r *Relay) send(ctx context.Context, chatID int64, text string, opts channels.SendOptions) {
	if _, err := r.Outbound.SendText(ctx, chatID, text, opts); err != nil {
		slog.Warn("relay: send failed", "chat_id", chatID, "text", channels.Truncate(text, 60), "error", err)
	}
}

// persist writes the checkpoint even when ctx has ended.
func (r *Relay) persist(ctx context.Context, s *sessions.Session) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.Sessions.Persist(pctx, s); err != nil {
		slog.Warn("relay: checkpoint not saved", "session", s.Key().String(), "error", err)
	}
}

// replyTarget is the message replies link to: none in private chats.
func replyTarget(msg bus.InboundMessage) int {
	if msg.IsPrivate() {
		return 0
	}
	return msg.MessageID
}
