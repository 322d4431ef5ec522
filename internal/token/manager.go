// Package token speaks the marketplace token endpoint: client
// credentials, refresh-token and one-time authorization-code grants.
package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"avitolink/pkg/apperr"
)

// DefaultEndpoint is the marketplace token endpoint.
const DefaultEndpoint = "https://api.avito.ru/token"

// Response is the token endpoint reply. RefreshToken is only present
// for authorization-code / refresh grants.
type Response struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// State is the in-memory token of one constructed client.
type State struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be presented. Absence or
// expiry both mean "must acquire".
func (s State) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// Manager performs grants against one token endpoint. It is stateless;
// callers own caching and persistence of the results.
type Manager struct {
	endpoint string
	httpc    *http.Client
	log      *zap.SugaredLogger
}

// NewManager builds a Manager. httpc carries the tenant's proxy
// routing; a nil client falls back to a plain 30s-timeout client.
func NewManager(endpoint string, httpc *http.Client, log *zap.SugaredLogger) *Manager {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{endpoint: endpoint, httpc: httpc, log: log}
}

// ClientCredentials performs the client_credentials grant.
func (m *Manager) ClientCredentials(ctx context.Context, clientID, clientSecret string) (Response, error) {
	return m.post(ctx, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	})
}

// Refresh exchanges a refresh token for a new token pair. Tokens
// rotate: the old refresh token is invalid after this call, so the
// caller must persist the returned pair.
func (m *Manager) Refresh(ctx context.Context, refreshToken, oauthClientID, oauthClientSecret string) (Response, error) {
	return m.post(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"refresh_token": {refreshToken},
	})
}

// ExchangeCode performs the one-time authorization-code exchange.
func (m *Manager) ExchangeCode(ctx context.Context, code, oauthClientID, oauthClientSecret string) (Response, error) {
	return m.post(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"code":          {code},
	})
}

func (m *Manager) post(ctx context.Context, form url.Values) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.Upstream, "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.log.Warnw("token grant rejected",
			"grant", form.Get("grant_type"), "status", resp.StatusCode, "detail", upstreamError(body))
		return Response{}, apperr.UpstreamStatus(resp.StatusCode, "token grant "+form.Get("grant_type")+" failed: "+upstreamError(body))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, apperr.Wrap(apperr.Upstream, "token endpoint returned malformed JSON", err)
	}
	if out.AccessToken == "" {
		return Response{}, apperr.New(apperr.Upstream, "token endpoint returned no access_token")
	}
	return out, nil
}

// upstreamError pulls the OAuth `error` field out of an error body,
// falling back to a trimmed raw body.
func upstreamError(body []byte) string {
	var e struct {
		Error string `json:"error"`
		Desc  string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Desc != "" {
			return e.Error + ": " + e.Desc
		}
		return e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
