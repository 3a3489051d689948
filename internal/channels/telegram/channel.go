// Package telegram is the telego-backed chat platform adapter.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	bot         *telego.Bot
	pollTimeout int

	mu         sync.Mutex
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

var _ channels.Platform = (*Channel)(nil)

// New creates a Telegram channel from config. Extra bot options are applied
// after the ones derived from cfg.
func New(cfg config.TelegramConfig, opts ...telego.BotOption) (*Channel, error) {
	var botOpts []telego.BotOption
	if cfg.APIServer != "" {
		botOpts = append(botOpts, telego.WithAPIServer(cfg.APIServer))
	}
	botOpts = append(botOpts, opts...)

	bot, err := telego.NewBot(cfg.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	return &Channel{bot: bot, pollTimeout: timeout}, nil
}

// Start begins long polling. handler is called for every text message from
// a human sender, in update order.
func (c *Channel) Start(ctx context.Context, handler bus.MessageHandler) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        c.pollTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.pollCancel = cancel
	c.pollDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				msg, ok := toInbound(update.Message)
				if !ok {
					slog.Debug("telegram update skipped", "update_id", update.UpdateID)
					continue
				}
				handler(msg)
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")

	c.mu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// SendText sends one text message.
func (c *Channel) SendText(ctx context.Context, chatID int64, text string, opts channels.SendOptions) (*bus.SentMessage, error) {
	params := tu.Message(tu.ID(chatID), text)
	params.ParseMode = opts.ParseMode
	params.DisableNotification = opts.DisableNotification
	if opts.DisableWebPagePreview {
		params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	}
	if opts.ReplyToMessageID != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: opts.ReplyToMessageID}
	}

	m, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, toSendError(err)
	}
	return &bus.SentMessage{ChatID: m.Chat.ID, MessageID: m.MessageID, Date: m.Date}, nil
}

// SendTyping shows the typing indicator.
func (c *Channel) SendTyping(ctx context.Context, chatID int64) error {
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

// Delete removes a message sent by the bot.
func (c *Channel) Delete(ctx context.Context, chatID int64, messageID int) error {
	return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	})
}

// toSendError maps a Bot API error to channels.SendError so callers can
// classify it by description.
func toSendError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return &channels.SendError{Code: apiErr.ErrorCode, Description: apiErr.Description, Err: err}
	}
	return &channels.SendError{Err: err}
}
