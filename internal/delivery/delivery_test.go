package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
	"github.com/nextlevelbuilder/chatrelay/internal/telegraph"
)

// --- fakes ---

type sendCall struct {
	text string
	opts channels.SendOptions
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  func(n int, opts channels.SendOptions) error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string, opts channels.SendOptions) (*bus.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{text: text, opts: opts})
	if f.fail != nil {
		if err := f.fail(len(f.calls), opts); err != nil {
			return nil, err
		}
	}
	return &bus.SentMessage{ChatID: chatID, MessageID: len(f.calls)}, nil
}

type fakeSink struct {
	calls int
	url   string
	err   error
}

func (f *fakeSink) Publish(context.Context, *sessions.Session, string) (string, error) {
	f.calls++
	return f.url, f.err
}

type notice struct {
	text    string
	replyTo int
}

type fakeNotifier struct{ notices []notice }

func (f *fakeNotifier) Notify(_ context.Context, _ int64, text string, replyTo int) {
	f.notices = append(f.notices, notice{text, replyTo})
}

type sleepLog struct{ waits []time.Duration }

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newSession(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := sessions.NewManager(nil, nil, nil).Get(context.Background(), -100, 7)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// --- Chunk ---

func TestChunk(t *testing.T) {
	cases := []struct {
		name string
		text string
		size int
		want int
	}{
		{"empty", "", 4000, 0},
		{"short", "hello", 4000, 1},
		{"exact", strings.Repeat("a", 4000), 4000, 1},
		{"one over", strings.Repeat("a", 4001), 4000, 2},
		{"multibyte", strings.Repeat("ж", 9000), 4000, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := Chunk(tc.text, tc.size)
			if len(chunks) != tc.want {
				t.Fatalf("chunks = %d, want %d", len(chunks), tc.want)
			}
			if strings.Join(chunks, "") != tc.text {
				t.Fatal("concatenation differs from input")
			}
			for i, c := range chunks {
				if n := utf8.RuneCountInString(c); n > tc.size {
					t.Fatalf("chunk %d has %d runes", i, n)
				}
			}
		})
	}
}

// --- Classify ---

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{&channels.SendError{Code: 400, Description: "Bad Request: message is too long"}, KindTooLong},
		{fmt.Errorf("wrapped: %w", &channels.SendError{Code: 400, Description: "Bad Request: message text is empty"}), KindEmptyText},
		{errors.New("telego: sendMessage: api: 400 \"Bad Request: message is too long\""), KindTooLong},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// --- Deliver ---

func TestDeliver_OverflowPublishesOnceAndAppendsLink(t *testing.T) {
	sender := &fakeSender{}
	sink := &fakeSink{url: "https://telegra.ph/reply-1"}
	sl := &sleepLog{}
	p := New(sender, WithOverflowSink(sink), WithSleep(sl.sleep))
	s := newSession(t)

	text := strings.Repeat("x", 9000)
	report, err := p.Deliver(context.Background(), s, Target{ChatID: -100, ReplyTo: 55}, text)
	if err != nil {
		t.Fatal(err)
	}
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d", sink.calls)
	}
	if report.Chunks != 3 || report.Delivered != 3 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	var sent strings.Builder
	for _, c := range sender.calls {
		sent.WriteString(c.text)
		if c.opts.ReplyToMessageID != 55 || !c.opts.DisableNotification || !c.opts.DisableWebPagePreview {
			t.Fatalf("unexpected options: %+v", c.opts)
		}
	}
	if sent.String() != text+"\n\nhttps://telegra.ph/reply-1" {
		t.Fatal("delivered text does not end with the overflow link")
	}
	if lm := s.LastMessage(); lm == nil || lm.MessageID != 3 {
		t.Fatalf("last message = %+v", lm)
	}
	if len(sl.waits) != 1 || sl.waits[0] != DefaultPacing {
		t.Fatalf("waits = %v, want only pacing", sl.waits)
	}
}

func TestDeliver_ShortTextSkipsSink(t *testing.T) {
	sink := &fakeSink{url: "u"}
	p := New(&fakeSender{}, WithOverflowSink(sink), WithSleep((&sleepLog{}).sleep))
	if _, err := p.Deliver(context.Background(), newSession(t), Target{ChatID: 1}, strings.Repeat("a", 4000)); err != nil {
		t.Fatal(err)
	}
	if sink.calls != 0 {
		t.Fatal("sink must not be used at the threshold")
	}
}

func TestDeliver_SinkFailureSendsNoticeAndText(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"account", fmt.Errorf("%w: down", telegraph.ErrAccountSetup), noticeAccountFailed},
		{"page", errors.New("CONTENT_TOO_BIG"), noticePageFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := &fakeNotifier{}
			p := New(sender, WithOverflowSink(&fakeSink{err: tc.err}), WithNotifier(n), WithSleep((&sleepLog{}).sleep))

			text := strings.Repeat("y", 5000)
			report, err := p.Deliver(context.Background(), newSession(t), Target{ChatID: 1, ReplyTo: 9}, text)
			if err != nil {
				t.Fatal(err)
			}
			if len(n.notices) != 1 || n.notices[0].text != tc.want {
				t.Fatalf("notices = %+v", n.notices)
			}
			if report.OverflowURL != "" || report.Delivered != 2 {
				t.Fatalf("unexpected report: %+v", report)
			}
			if sender.calls[0].text+sender.calls[1].text != text {
				t.Fatal("text must be sent without a link")
			}
		})
	}
}

func TestDeliver_ChunkFailingBothPhasesRecordedOnce(t *testing.T) {
	sender := &fakeSender{fail: func(int, channels.SendOptions) error { return errors.New("timeout") }}
	sl := &sleepLog{}
	p := New(sender, WithSleep(sl.sleep))

	report, err := p.Deliver(context.Background(), newSession(t), Target{ChatID: 1, ReplyTo: 42}, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(sender.calls) != 6 {
		t.Fatalf("attempts = %d, want 6", len(sender.calls))
	}
	for i, c := range sender.calls {
		want := 42
		if i >= 3 {
			want = 0
		}
		if c.opts.ReplyToMessageID != want {
			t.Fatalf("attempt %d reply_to = %d, want %d", i, c.opts.ReplyToMessageID, want)
		}
	}
	if len(report.Failed) != 1 || report.Failed[0] != 0 || report.Delivered != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	// six retry waits plus the pacing delay
	if len(sl.waits) != 7 || sl.waits[0] != DefaultRetryDelay {
		t.Fatalf("waits = %v", sl.waits)
	}
}

func TestDeliver_RecoversWithoutReplyLink(t *testing.T) {
	sender := &fakeSender{fail: func(_ int, opts channels.SendOptions) error {
		if opts.ReplyToMessageID != 0 {
			return errors.New("Bad Request: message to be replied not found")
		}
		return nil
	}}
	s := newSession(t)
	report, err := New(sender, WithSleep((&sleepLog{}).sleep)).Deliver(context.Background(), s, Target{ChatID: 1, ReplyTo: 3}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if report.Delivered != 1 || len(sender.calls) != 4 {
		t.Fatalf("report=%+v calls=%d", report, len(sender.calls))
	}
	if s.LastMessage() == nil {
		t.Fatal("last message not recorded")
	}
}

func TestDeliver_AbortsOnClassifiedError(t *testing.T) {
	cases := []struct {
		name string
		desc string
		url  string
		kind ErrorKind
		want string
	}{
		{"too long", "Bad Request: message is too long", "", KindTooLong, "Message too long for Telegram."},
		{"too long with link", "Bad Request: message is too long", "https://telegra.ph/p", KindTooLong, "Message too long for Telegram. Go here: https://telegra.ph/p"},
		{"empty", "Bad Request: message text is empty", "", KindEmptyText, "Model produced no output."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{fail: func(int, channels.SendOptions) error {
				return &channels.SendError{Code: 400, Description: tc.desc}
			}}
			n := &fakeNotifier{}
			opts := []Option{WithNotifier(n), WithSleep((&sleepLog{}).sleep)}
			text := "short"
			if tc.url != "" {
				opts = append(opts, WithOverflowSink(&fakeSink{url: tc.url}))
				text = strings.Repeat("z", 8500)
			}

			report, err := New(sender, opts...).Deliver(context.Background(), newSession(t), Target{ChatID: 1, ReplyTo: 8}, text)
			if err != nil {
				t.Fatal(err)
			}
			if len(sender.calls) != 1 {
				t.Fatalf("remaining chunks must be skipped, calls = %d", len(sender.calls))
			}
			if report.Aborted != tc.kind {
				t.Fatalf("aborted = %v", report.Aborted)
			}
			if len(n.notices) != 1 || n.notices[0] != (notice{tc.want, 8}) {
				t.Fatalf("notices = %+v", n.notices)
			}
		})
	}
}

func TestDeliver_ChunkPrefix(t *testing.T) {
	sender := &fakeSender{}
	text := strings.Repeat("q", 4500)
	report, err := New(sender, WithSleep((&sleepLog{}).sleep)).Deliver(context.Background(), newSession(t), Target{ChatID: 1, ChunkPrefix: "1. "}, text)
	if err != nil {
		t.Fatal(err)
	}
	if report.Chunks != 2 {
		t.Fatalf("chunks = %d", report.Chunks)
	}
	var joined strings.Builder
	for _, c := range sender.calls {
		if !strings.HasPrefix(c.text, "1. ") || utf8.RuneCountInString(c.text) > MaxChunkRunes {
			t.Fatalf("bad chunk of %d runes", utf8.RuneCountInString(c.text))
		}
		joined.WriteString(strings.TrimPrefix(c.text, "1. "))
	}
	if joined.String() != text {
		t.Fatal("prefix-stripped chunks differ from input")
	}
}

func TestDeliver_EmptyTextSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	report, err := New(sender, WithSleep((&sleepLog{}).sleep)).Deliver(context.Background(), newSession(t), Target{ChatID: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Chunks != 0 || len(sender.calls) != 0 {
		t.Fatalf("report=%+v calls=%d", report, len(sender.calls))
	}
}

func TestDeliver_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{fail: func(int, channels.SendOptions) error {
		cancel()
		return context.Canceled
	}}
	_, err := New(sender).Deliver(ctx, newSession(t), Target{ChatID: 1}, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("calls = %d", len(sender.calls))
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero wait: %v", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled wait returned %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled wait blocked")
	}
}
