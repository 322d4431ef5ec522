// Package avito is the outbound marketplace client. One Client per
// integrated account; it owns its proxied http client and its token
// state, and renews tokens transparently on expiry or rejection.
package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"avitolink/internal/proxyconf"
	"avitolink/internal/token"
	"avitolink/pkg/apperr"
)

// DefaultBaseURL is the marketplace API root.
const DefaultBaseURL = "https://api.avito.ru"

// CredentialKind tells the client which token lifecycle applies. The
// same stored field pair holds either a static API key pair or a
// rotating access/refresh token pair; the kind removes the guesswork.
type CredentialKind string

const (
	// KindClientCredentials: ClientID/ClientSecret are a static app
	// key pair; tokens come from the client_credentials grant.
	KindClientCredentials CredentialKind = "client_credentials"
	// KindAuthorizationCode: ClientID holds the current access token
	// and ClientSecret the current refresh token; renewal goes through
	// the refresh grant and rotates both.
	KindAuthorizationCode CredentialKind = "authorization_code"
)

// Credentials is the decrypted credential material for one account.
type Credentials struct {
	Kind         CredentialKind
	ClientID     string
	ClientSecret string
	UserID       int64 // remote numeric identity, 0 when unknown
}

// TokenSink persists a rotated access/refresh pair. Rotation
// invalidates the old refresh token, so a failed persist loses the
// session; implementations must store before returning.
type TokenSink func(ctx context.Context, accessToken, refreshToken string) error

// Options configures a Client build.
type Options struct {
	BaseURL        string
	TokenEndpoint  string
	OAuthAppID     string // marketplace OAuth application, for refresh grants
	OAuthAppSecret string
	Proxy          *proxyconf.Descriptor
	Sink           TokenSink
	Log            *zap.SugaredLogger
	Now            func() time.Time // test clock, defaults to time.Now
}

// Client calls the marketplace on behalf of one account.
type Client struct {
	creds  Credentials
	base   string
	httpc  *http.Client
	tokens *token.Manager
	sink   TokenSink
	log    *zap.SugaredLogger
	now    func() time.Time

	mu           sync.Mutex
	state        token.State
	refreshToken string
}

// NewClient wires the proxied transport and seeds token state. For
// authorization-code credentials the stored access token is presented
// as-is until the marketplace rejects it; the first 401 triggers a
// refresh with the real expiry attached.
func NewClient(creds Credentials, opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	httpc := &http.Client{
		Timeout:   30 * time.Second,
		Transport: opts.Proxy.Transport(),
	}
	c := &Client{
		creds:  creds,
		base:   base,
		httpc:  httpc,
		tokens: token.NewManager(opts.TokenEndpoint, httpc, opts.Log),
		sink:   opts.Sink,
		log:    opts.Log,
		now:    now,
	}
	if creds.Kind == KindAuthorizationCode {
		c.state = token.State{AccessToken: creds.ClientID, ExpiresAt: now().Add(time.Hour)}
		c.refreshToken = creds.ClientSecret
		// Refresh grants authenticate as the OAuth application.
		c.creds.ClientID = opts.OAuthAppID
		c.creds.ClientSecret = opts.OAuthAppSecret
	}
	return c
}

// UserID returns the remote numeric identity, 0 when not configured.
func (c *Client) UserID() int64 { return c.creds.UserID }

// Close drops the in-memory token state and releases idle
// connections. Persisted credentials are untouched.
func (c *Client) Close() {
	c.mu.Lock()
	c.state = token.State{}
	c.mu.Unlock()
	c.httpc.CloseIdleConnections()
}

// accessToken returns a valid bearer, acquiring one when absent or
// expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Valid(c.now()) {
		return c.state.AccessToken, nil
	}
	return c.renewLocked(ctx)
}

// forceRefresh discards the current token and acquires a fresh one.
// Called after a downstream 401; stale reports whether the rejected
// token is still the cached one (a concurrent caller may have renewed
// already).
func (c *Client) forceRefresh(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Valid(c.now()) && c.state.AccessToken != rejected {
		return c.state.AccessToken, nil
	}
	c.state = token.State{}
	return c.renewLocked(ctx)
}

func (c *Client) renewLocked(ctx context.Context) (string, error) {
	var (
		resp token.Response
		err  error
	)
	switch c.creds.Kind {
	case KindAuthorizationCode:
		resp, err = c.tokens.Refresh(ctx, c.refreshToken, c.creds.ClientID, c.creds.ClientSecret)
	default:
		resp, err = c.tokens.ClientCredentials(ctx, c.creds.ClientID, c.creds.ClientSecret)
	}
	if err != nil {
		return "", err
	}
	c.state = token.State{
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if c.creds.Kind == KindAuthorizationCode && resp.RefreshToken != "" {
		c.refreshToken = resp.RefreshToken
		if c.sink != nil {
			if err := c.sink(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
				return "", fmt.Errorf("persist rotated tokens: %w", err)
			}
		}
	}
	return c.state.AccessToken, nil
}

// do performs one authenticated call. On 401 it refreshes the token
// exactly once and retries; a second rejection surfaces as an
// auth-expired error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	status, err := c.doOnce(ctx, method, path, query, body, out, tok)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		tok, err = c.forceRefresh(ctx, tok)
		if err != nil {
			return apperr.Wrap(apperr.AuthExpired, "token rejected and refresh failed", err)
		}
		status, err = c.doOnce(ctx, method, path, query, body, out, tok)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return apperr.New(apperr.AuthExpired, "token rejected after refresh")
		}
	}
	return nil
}

// doOnce returns the status for 401 handling; other non-2xx statuses
// are folded into an upstream error.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any, bearer string) (int, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(buf)
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, apperr.Wrap(apperr.Upstream, method+" "+path+" unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, apperr.UpstreamStatus(resp.StatusCode,
			fmt.Sprintf("%s %s: %s", method, path, bytes.TrimSpace(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, apperr.Wrap(apperr.Upstream, method+" "+path+" returned malformed JSON", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}
	return resp.StatusCode, nil
}
