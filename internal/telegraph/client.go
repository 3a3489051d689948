// Package telegraph publishes oversized replies as Telegraph pages.
package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.telegra.ph"

// Account is a Telegraph account as returned by createAccount.
type Account struct {
	ShortName   string `json:"short_name"`
	AuthorName  string `json:"author_name"`
	AuthorURL   string `json:"author_url,omitempty"`
	AccessToken string `json:"access_token"`
	AuthURL     string `json:"auth_url,omitempty"`
}

// Page is a created Telegraph page.
type Page struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Client calls the Telegraph API.
type Client struct {
	apiBase string
	client  *http.Client
}

type Option func(*Client)

func WithAPIBase(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.apiBase = strings.TrimRight(base, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiResponse[T any] struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result T      `json:"result"`
}

func call[T any](ctx context.Context, c *Client, method string, form url.Values) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return zero, fmt.Errorf("telegraph %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("telegraph %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return zero, fmt.Errorf("telegraph %s: HTTP %d: %s", method, resp.StatusCode, body)
	}

	var out apiResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("telegraph %s: decode: %w", method, err)
	}
	if !out.OK {
		return zero, fmt.Errorf("telegraph %s: %s", method, out.Error)
	}
	return out.Result, nil
}

// CreateAccount registers a new account.
func (c *Client) CreateAccount(ctx context.Context, shortName, authorName string) (*Account, error) {
	acc, err := call[Account](ctx, c, "createAccount", url.Values{
		"short_name":  {shortName},
		"author_name": {authorName},
	})
	if err != nil {
		return nil, err
	}
	if acc.AccessToken == "" {
		return nil, errors.New("telegraph createAccount: no access token")
	}
	return &acc, nil
}

// CreatePage publishes content under the account identified by accessToken.
func (c *Client) CreatePage(ctx context.Context, accessToken, title, authorName string, content []Node) (*Page, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("telegraph createPage: marshal content: %w", err)
	}
	page, err := call[Page](ctx, c, "createPage", url.Values{
		"access_token":   {accessToken},
		"title":          {title},
		"author_name":    {authorName},
		"content":        {string(data)},
		"return_content": {"false"},
	})
	if err != nil {
		return nil, err
	}
	if page.URL == "" {
		return nil, errors.New("telegraph createPage: no url")
	}
	return &page, nil
}
