package avito

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"avitolink/pkg/apperr"
)

// Chats lists messenger conversations for the account's remote user.
func (c *Client) Chats(ctx context.Context, unreadOnly bool, limit int) ([]Chat, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Chats []Chat `json:"chats"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messenger/v2/accounts/%d/chats", c.creds.UserID), q, nil, &out)
	return out.Chats, err
}

// Messages fetches a chat's history (v3 API).
func (c *Client) Messages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Message
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/messenger/v3/accounts/%d/chats/%s/messages/", c.creds.UserID, url.PathEscape(chatID)), q, nil, &out)
	return out, err
}

// SendMessage posts a text message into a chat (v1 API).
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (Message, error) {
	body := map[string]any{
		"type":    "text",
		"message": map[string]string{"text": text},
	}
	var out Message
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/messages", c.creds.UserID, url.PathEscape(chatID)), nil, body, &out)
	return out, err
}

// MarkRead marks a whole chat as read (v1 API).
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/messenger/v1/accounts/%d/chats/%s/read", c.creds.UserID, url.PathEscape(chatID)), nil, struct{}{}, nil)
}

// SetOnline pings the presence endpoint. Keepalive loops call this on
// an interval; failures are the caller's to log, not fatal.
func (c *Client) SetOnline(ctx context.Context) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/messenger/v2/accounts/%d/status/online", c.creds.UserID), nil, struct{}{}, nil)
}

// RegisterWebhook subscribes webhookURL to messenger notifications.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, "/messenger/v3/webhook", nil, map[string]string{"url": webhookURL}, &out); err != nil {
		return err
	}
	if !out.OK {
		return apperr.New(apperr.Upstream, "webhook registration not acknowledged")
	}
	return nil
}
