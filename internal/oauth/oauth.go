// Package oauth implements the marketplace authorization-code flow:
// redirect to consent, callback exchange, manual refresh. Callback
// failures redirect back to the UI with an error marker instead of
// surfacing raw errors to the browser.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"avitolink/internal/accounts"
	"avitolink/internal/token"
	"avitolink/pkg/apperr"
	"avitolink/pkg/problems"
)

// AuthorizeBaseURL is the marketplace consent page.
const AuthorizeBaseURL = "https://avito.ru/oauth"

const stateTTL = 10 * time.Minute

// Config is the OAuth application identity and redirect targets.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string // comma separated
	FrontendBase string
	AuthorizeURL string // override for tests, defaults to AuthorizeBaseURL
	TokenURL     string // override for tests, defaults to token.DefaultEndpoint
}

// Handlers wires the /auth/avito routes.
type Handlers struct {
	cfg    Config
	svc    *accounts.Service
	tokens *token.Manager
	rdb    *redis.Client // optional nonce store, nil disables replay checks
	log    *zap.SugaredLogger
}

func NewHandlers(cfg Config, svc *accounts.Service, rdb *redis.Client, log *zap.SugaredLogger) *Handlers {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = AuthorizeBaseURL
	}
	endpoint := cfg.TokenURL
	if endpoint == "" {
		endpoint = token.DefaultEndpoint
	}
	return &Handlers{
		cfg:    cfg,
		svc:    svc,
		tokens: token.NewManager(endpoint, nil, log),
		rdb:    rdb,
		log:    log,
	}
}

// Mount registers the flow under /auth/avito.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/auth/avito", func(r chi.Router) {
		r.Get("/authorize/{accountID}", h.authorize)
		r.Get("/callback", h.callback)
		r.Get("/refresh/{accountID}", h.refresh)
	})
}

// state is what rides through the consent redirect.
type state struct {
	AccountID int64  `json:"account_id"`
	Nonce     string `json:"nonce,omitempty"`
}

func encodeState(s state) string {
	b, _ := json.Marshal(s)
	return base64.URLEncoding.EncodeToString(b)
}

func decodeState(raw string) (state, error) {
	b, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		// Consent pages have been seen re-encoding with std alphabet.
		b, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return state{}, fmt.Errorf("decode state: %w", err)
		}
	}
	var s state
	if err := json.Unmarshal(b, &s); err != nil {
		return state{}, fmt.Errorf("decode state: %w", err)
	}
	if s.AccountID <= 0 {
		return state{}, fmt.Errorf("state carries no account id")
	}
	return s, nil
}

func newNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (h *Handlers) nonceKey(n string) string { return "oauth:state:" + n }

func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if apperr.IsKind(err, apperr.NotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, "account lookup failed", status)
		return
	}
	if h.cfg.ClientID == "" {
		http.Error(w, "oauth application is not configured", http.StatusServiceUnavailable)
		return
	}

	st := state{AccountID: id}
	if h.rdb != nil {
		st.Nonce = newNonce()
		if err := h.rdb.Set(r.Context(), h.nonceKey(st.Nonce), id, stateTTL).Err(); err != nil {
			h.log.Warnw("oauth state nonce not stored, continuing without replay check", "err", err)
			st.Nonce = ""
		}
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", h.cfg.ClientID)
	q.Set("scope", strings.ReplaceAll(h.cfg.Scopes, ",", " "))
	q.Set("state", encodeState(st))
	if h.cfg.RedirectURI != "" {
		q.Set("redirect_uri", h.cfg.RedirectURI)
	}
	http.Redirect(w, r, h.cfg.AuthorizeURL+"?"+q.Encode(), http.StatusFound)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	if msg := r.URL.Query().Get("error"); msg != "" {
		if d := r.URL.Query().Get("error_description"); d != "" {
			msg = d
		}
		h.redirectError(w, r, msg)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectError(w, r, "missing authorization code")
		return
	}
	st, err := decodeState(r.URL.Query().Get("state"))
	if err != nil {
		h.log.Warnw("oauth callback with bad state", "err", err)
		h.redirectError(w, r, "invalid state")
		return
	}
	if h.rdb != nil && st.Nonce != "" {
		if err := h.consumeNonce(r.Context(), st); err != nil {
			h.log.Warnw("oauth state nonce rejected", "account", st.AccountID, "err", err)
			h.redirectError(w, r, "expired or replayed state")
			return
		}
	}

	resp, err := h.tokens.ExchangeCode(r.Context(), code, h.cfg.ClientID, h.cfg.ClientSecret)
	if err != nil {
		h.log.Errorw("oauth code exchange failed", "account", st.AccountID, "err", err)
		h.redirectError(w, r, "token exchange failed")
		return
	}
	if err := h.svc.SaveOAuthTokens(r.Context(), st.AccountID, resp.AccessToken, resp.RefreshToken); err != nil {
		h.log.Errorw("oauth token persist failed", "account", st.AccountID, "err", err)
		h.redirectError(w, r, "could not store tokens")
		return
	}
	h.log.Infow("oauth tokens stored", "account", st.AccountID)
	http.Redirect(w, r, fmt.Sprintf("%s/avito/edit/%d?oauth=success", h.cfg.FrontendBase, st.AccountID), http.StatusFound)
}

func (h *Handlers) consumeNonce(ctx context.Context, st state) error {
	key := h.nonceKey(st.Nonce)
	val, err := h.rdb.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("nonce not found")
	}
	if err != nil {
		return err
	}
	if val != strconv.FormatInt(st.AccountID, 10) {
		return fmt.Errorf("nonce bound to a different account")
	}
	return nil
}

// refresh performs the refresh_token grant with the stored pair and
// persists the rotated tokens. Rotation invalidates the old refresh
// token, so the new pair is saved before anything is reported back.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	rt, err := h.svc.StoredRefreshToken(r.Context(), id)
	if err != nil {
		problems.Write(w, err)
		return
	}
	resp, err := h.tokens.Refresh(r.Context(), rt, h.cfg.ClientID, h.cfg.ClientSecret)
	if err != nil {
		h.log.Warnw("manual token refresh failed", "account", id, "err", err)
		problems.Write(w, err)
		return
	}
	if err := h.svc.SaveOAuthTokens(r.Context(), id, resp.AccessToken, resp.RefreshToken); err != nil {
		h.log.Errorw("refreshed token persist failed", "account", id, "err", err)
		problems.Write(w, err)
		return
	}
	h.log.Infow("tokens refreshed manually", "account", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "expiresIn": resp.ExpiresIn})
}

func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, msg string) {
	u := fmt.Sprintf("%s/avito?oauth=error&message=%s", h.cfg.FrontendBase, url.QueryEscape(msg))
	http.Redirect(w, r, u, http.StatusFound)
}
