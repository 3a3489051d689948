package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/personas"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
	"github.com/nextlevelbuilder/chatrelay/internal/store/file"
)

// fakeBackend records transcripts and replies with a fixed text.
type fakeBackend struct {
	mu     sync.Mutex
	name   string
	reply  string
	err    error
	calls  [][]providers.Message
	opts   []providers.Options
	before func()
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(_ context.Context, history []providers.Message, opts providers.Options) (string, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, history)
	f.opts = append(f.opts, opts)
	return f.reply, f.err
}

func testRegistries(def, claude providers.Backend) (*personas.Registry, *providers.Registry) {
	p := personas.NewStatic(
		personas.Entry{Name: "g", Persona: personas.Persona{Persona: "You are G.\nA helper.\n\nBe brief."}},
		personas.Entry{Name: "pirate", Persona: personas.Persona{Persona: "Arr."}},
	)
	b := providers.NewRegistry()
	if def != nil {
		b.Register(providers.SelectorDefault, def)
	}
	if claude != nil {
		b.Register(providers.SelectorClaude, claude)
	}
	return p, b
}

func newTestSession(def, claude providers.Backend) *Session {
	p, b := testRegistries(def, claude)
	return newSession(store.Key{ChatID: 1, UserID: 2}, p, b)
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("  You are G.\nA helper.\n\nBe brief.\n")
	want := "You are G. A helper.\n\nBe brief.\n\n" + Guardrail
	if got != want {
		t.Fatalf("SystemPrompt = %q, want %q", got, want)
	}
}

func TestInitProfile(t *testing.T) {
	s := newTestSession(nil, nil)
	if err := s.InitProfile("nope"); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if err := s.InitProfile("g"); err != nil {
		t.Fatal(err)
	}
	h := s.History()
	if len(h) != 1 || h[0].Role != providers.RoleSystem || !strings.HasPrefix(h[0].Content, "You are G. A helper.\n\nBe brief.") {
		t.Fatalf("unexpected history: %+v", h)
	}
	if s.Profile() != "g" || s.CustomProfile() != nil {
		t.Fatal("profile not set exclusively")
	}
}

func TestInitCustom(t *testing.T) {
	s := newTestSession(nil, nil)
	s.InitProfile("g")

	for _, cp := range []store.CustomProfile{
		{NameOther: "b", Persona: "p"},
		{Name: "a", Persona: "p"},
		{Name: "a", NameOther: "b"},
	} {
		if err := s.InitCustom(cp); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("InitCustom(%+v) = %v, want ErrInvalidProfile", cp, err)
		}
	}

	if err := s.InitCustom(store.CustomProfile{Name: "Ann", NameOther: "Bob", Persona: "Ann is kind."}); err != nil {
		t.Fatal(err)
	}
	if s.Profile() != "" || s.CustomProfile() == nil {
		t.Fatal("profile and custom profile must be exclusive")
	}
	if h := s.History(); len(h) != 1 || !strings.HasPrefix(h[0].Content, "Ann is kind.") {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestWithBackend(t *testing.T) {
	s := newTestSession(nil, nil)
	if err := s.WithBackend("gpt5"); !errors.Is(err, ErrInvalidBackend) {
		t.Fatalf("expected ErrInvalidBackend, got %v", err)
	}
	if err := s.WithBackend(providers.SelectorClaude); err != nil || s.Backend() != providers.SelectorClaude {
		t.Fatalf("backend not set: %v", err)
	}
}

func TestSend(t *testing.T) {
	def := &fakeBackend{name: "copilot", reply: "  hello back \n"}
	claude := &fakeBackend{name: "claude", reply: "from claude"}
	s := newTestSession(def, claude)
	s.InitProfile("g")

	got, err := s.Send(context.Background(), "  hi  ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello back" {
		t.Fatalf("reply not trimmed: %q", got)
	}
	h := s.History()
	if len(h) != 3 || h[1].Content != "hi" || h[2].Role != providers.RoleAssistant || h[2].Content != "hello back" {
		t.Fatalf("unexpected history: %+v", h)
	}

	s.WithBackend(providers.SelectorClaude)
	if got, _ := s.Send(context.Background(), "again"); got != "from claude" {
		t.Fatalf("backend selection ignored: %q", got)
	}
	if len(claude.calls) != 1 || len(claude.calls[0]) != 4 {
		t.Fatalf("claude got wrong transcript: %+v", claude.calls)
	}
}

func TestSend_ErrorLeavesHistory(t *testing.T) {
	def := &fakeBackend{name: "copilot", err: &providers.CompletionError{Provider: "copilot", Reason: "Timeout", Err: providers.ErrTimeout}}
	s := newTestSession(def, nil)
	s.InitProfile("g")

	if _, err := s.Send(context.Background(), "hi"); !errors.Is(err, providers.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if h := s.History(); len(h) != 1 {
		t.Fatalf("history mutated on failure: %+v", h)
	}
}

func TestSend_UnconfiguredBackend(t *testing.T) {
	s := newTestSession(&fakeBackend{name: "copilot"}, nil)
	s.WithBackend(providers.SelectorClaude)
	_, err := s.Send(context.Background(), "hi")
	var ce *providers.CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
}

func TestSend_ResetDuringExchangeDoesNotCommit(t *testing.T) {
	var s *Session
	def := &fakeBackend{name: "copilot", reply: "late"}
	def.before = func() { s.Reset() }
	s = newTestSession(def, nil)
	s.InitProfile("g")

	if _, err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if h := s.History(); len(h) != 0 {
		t.Fatalf("stale exchange committed after reset: %+v", h)
	}
}

func TestComplete_LeavesHistory(t *testing.T) {
	def := &fakeBackend{name: "copilot", reply: "verbatim"}
	s := newTestSession(def, nil)
	s.InitProfile("g")

	got, err := s.Complete(context.Background(), "prompt", 0.3)
	if err != nil || got != "verbatim" {
		t.Fatalf("got %q %v", got, err)
	}
	if len(s.History()) != 1 {
		t.Fatal("Complete must not touch history")
	}
	if len(def.calls[0]) != 1 || def.calls[0][0].Content != "prompt" || def.opts[0].Temperature != 0.3 {
		t.Fatalf("unexpected call: %+v %+v", def.calls[0], def.opts[0])
	}
	if s.Mode() != ModeVerbatim {
		t.Fatalf("mode = %s", s.Mode())
	}
}

func TestSingleFlight(t *testing.T) {
	s := newTestSession(nil, nil)
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryBeginWork() {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", won.Load())
	}
	if !s.Working() {
		t.Fatal("session should be working")
	}
	s.ForceIdle()
	if s.Working() || !s.TryBeginWork() {
		t.Fatal("ForceIdle did not release the session")
	}
}

func TestReset_KeepsBackend(t *testing.T) {
	s := newTestSession(&fakeBackend{reply: "x"}, nil)
	s.WithBackend(providers.SelectorClaude)
	s.InitProfile("g")
	s.SetLastMessage(&bus.SentMessage{ChatID: 1, MessageID: 9})
	s.SetOverflowAccount(&store.OverflowAccount{AccessToken: "tok"})
	s.TryBeginWork()

	s.Reset()

	if s.Backend() != providers.SelectorClaude {
		t.Fatal("backend not kept")
	}
	if h := s.History(); len(h) != 0 {
		t.Fatalf("history not cleared: %+v", h)
	}
	if s.Working() || s.Profile() != "" || s.LastMessage() != nil {
		t.Fatal("reset left state behind")
	}
	if s.OverflowAccount() == nil {
		t.Fatal("overflow account should carry over")
	}

	s.InitProfile("pirate")
	if h := s.History(); len(h) != 1 || h[0].Role != providers.RoleSystem {
		t.Fatalf("history after re-init: %+v", h)
	}
}

func TestCheckpointRestore(t *testing.T) {
	s := newTestSession(&fakeBackend{reply: "pong"}, nil)
	s.InitProfile("g")
	s.WithBackend(providers.SelectorClaude)
	s.TryBeginWork()

	cp := s.Checkpoint()
	if cp.IsWorking {
		t.Fatal("working flag must not be persisted")
	}

	restored := newTestSession(nil, nil)
	cp.IsWorking = true
	restored.restore(cp)
	if restored.Working() {
		t.Fatal("restored sessions are idle")
	}
	if restored.Backend() != providers.SelectorClaude || restored.Profile() != "g" {
		t.Fatal("backend/profile lost")
	}
	if len(restored.History()) != 1 {
		t.Fatal("history lost")
	}
}

// --- Manager ---

func TestManager_PersistReload(t *testing.T) {
	ctx := context.Background()
	st, err := file.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	def := &fakeBackend{name: "copilot", reply: "pong"}
	p, b := testRegistries(def, def)

	m := NewManager(st, p, b)
	s, err := m.Get(ctx, -100, 7)
	if err != nil {
		t.Fatal(err)
	}
	s.InitProfile("g")
	s.WithBackend(providers.SelectorClaude)
	if _, err := s.Send(ctx, "ping"); err != nil {
		t.Fatal(err)
	}
	if err := m.Persist(ctx, s); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(st, p, b)
	s2, err := m2.Get(ctx, -100, 7)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Fatal("expected a restored session, not the live one")
	}
	if s2.Backend() != providers.SelectorClaude {
		t.Fatalf("backend = %q", s2.Backend())
	}
	want, got := s.History(), s2.History()
	if len(want) != len(got) {
		t.Fatalf("history length %d != %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("history[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestManager_GetReturnsLive(t *testing.T) {
	m := NewManager(nil, nil, nil)
	a, _ := m.Get(context.Background(), 1, 1)
	b, _ := m.Get(context.Background(), 1, 1)
	c, _ := m.Get(context.Background(), 1, 2)
	if a != b || a == c {
		t.Fatal("live table keyed incorrectly")
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestManager_ResetAndFlush(t *testing.T) {
	ctx := context.Background()
	st, _ := file.NewSessionStore(t.TempDir())
	p, b := testRegistries(nil, nil)
	m := NewManager(st, p, b)

	s, _ := m.Get(ctx, 1, 1)
	s.WithBackend(providers.SelectorClaude)
	s.InitProfile("g")
	m.Get(ctx, 2, 1)

	s2, err := m.Reset(ctx, 1, 1)
	if err != nil || s2 != s {
		t.Fatalf("reset returned %v, %v", s2, err)
	}
	if s.Backend() != providers.SelectorClaude || len(s.History()) != 0 {
		t.Fatal("reset semantics broken")
	}

	if err := m.FlushAll(ctx); err != nil {
		t.Fatal(err)
	}
	keys, _ := st.List(ctx)
	if len(keys) != 2 {
		t.Fatalf("expected 2 flushed checkpoints, got %v", keys)
	}

	snap, err := m.Snapshot(ctx, 1, 1)
	if err != nil || snap.Checkpoint.Backend != providers.SelectorClaude {
		t.Fatalf("snapshot: %+v %v", snap, err)
	}
	if _, err := m.Snapshot(ctx, 9, 9); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
