package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/channels"
)

// DefaultNoticeTTL is how long a temporary notice stays in the chat.
const DefaultNoticeTTL = 3 * time.Second

// Deleter removes messages from a chat.
type Deleter interface {
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Notices sends short-lived messages that are deleted after a TTL.
// Close deletes pending notices at once.
type Notices struct {
	sender  channels.Sender
	deleter Deleter
	ttl     time.Duration

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewNotices(sender channels.Sender, deleter Deleter, ttl time.Duration) *Notices {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &Notices{sender: sender, deleter: deleter, ttl: ttl, closed: make(chan struct{})}
}

// Notify sends text with the default TTL. It satisfies delivery.Notifier.
func (n *Notices) Notify(ctx context.Context, chatID int64, text string, replyTo int) {
	n.Send(ctx, chatID, text, channels.SendOptions{ReplyToMessageID: replyTo}, n.ttl)
}

// Send delivers a notice and schedules its deletion after ttl. Failures are
// logged only.
func (n *Notices) Send(ctx context.Context, chatID int64, text string, opts channels.SendOptions, ttl time.Duration) {
	sent, err := n.sender.SendText(ctx, chatID, text, opts)
	if err != nil {
		slog.Warn("relay: notice not sent", "chat_id", chatID, "text", channels.Truncate(text, 60), "error", err)
		return
	}
	if sent == nil || n.deleter == nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		t := time.NewTimer(ttl)
		defer t.Stop()
		select {
		case <-t.C:
		case <-n.closed:
		}
		delCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.deleter.Delete(delCtx, sent.ChatID, sent.MessageID); err != nil {
			slog.Debug("relay: notice not deleted", "chat_id", sent.ChatID, "message_id", sent.MessageID, "error", err)
		}
	}()
}

// Close deletes pending notices and waits for the deletions.
func (n *Notices) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
	n.wg.Wait()
}
