package telegraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
)

// DefaultShortName is the account short name and page title prefix.
const DefaultShortName = "bootlegsiri"

// ErrAccountSetup is wrapped when the per-conversation account cannot be created.
var ErrAccountSetup = errors.New("telegraph account setup failed")

// Sink publishes text to Telegraph using one account per conversation,
// created on first use and stored on the session.
type Sink struct {
	client    *Client
	shortName string
	now       func() time.Time
}

func NewSink(client *Client, shortName string) *Sink {
	if shortName == "" {
		shortName = DefaultShortName
	}
	return &Sink{client: client, shortName: shortName, now: time.Now}
}

// AuthorName is the account author name for a conversation.
func (k *Sink) AuthorName(key store.Key) string {
	return fmt.Sprintf("%s_%d_%d", k.shortName, key.ChatID, key.UserID)
}

// Publish creates a page holding content and returns its URL.
func (k *Sink) Publish(ctx context.Context, s *sessions.Session, content string) (string, error) {
	acc := s.OverflowAccount()
	if acc == nil || acc.AccessToken == "" {
		created, err := k.client.CreateAccount(ctx, k.shortName, k.AuthorName(s.Key()))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAccountSetup, err)
		}
		acc = &store.OverflowAccount{
			AccessToken: created.AccessToken,
			AuthorName:  created.AuthorName,
			ShortName:   created.ShortName,
		}
		s.SetOverflowAccount(acc)
	}

	title := k.shortName + "-" + k.now().UTC().Format(time.RFC3339)
	page, err := k.client.CreatePage(ctx, acc.AccessToken, title, acc.AuthorName, FromMarkdown(content))
	if err != nil {
		return "", err
	}
	return page.URL, nil
}
