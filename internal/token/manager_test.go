package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"avitolink/pkg/apperr"
)

func testLog() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func tokenServer(t *testing.T, handler func(w http.ResponseWriter, form map[string]string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		handler(w, form)
	}))
}

func TestClientCredentials(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form map[string]string) {
		require.Equal(t, "client_credentials", form["grant_type"])
		require.Equal(t, "cid", form["client_id"])
		require.Equal(t, "csecret", form["client_secret"])
		_ = json.NewEncoder(w).Encode(Response{AccessToken: "at-1", ExpiresIn: 86400, TokenType: "Bearer"})
	})
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLog())
	resp, err := m.ClientCredentials(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	require.Equal(t, "at-1", resp.AccessToken)
	require.Equal(t, 86400, resp.ExpiresIn)
}

func TestRefreshRotatesPair(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form map[string]string) {
		require.Equal(t, "refresh_token", form["grant_type"])
		require.Equal(t, "rt-old", form["refresh_token"])
		require.Equal(t, "app-id", form["client_id"])
		_ = json.NewEncoder(w).Encode(Response{AccessToken: "at-2", RefreshToken: "rt-new", ExpiresIn: 3600, TokenType: "Bearer"})
	})
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLog())
	resp, err := m.Refresh(context.Background(), "rt-old", "app-id", "app-secret")
	require.NoError(t, err)
	require.Equal(t, "at-2", resp.AccessToken)
	require.Equal(t, "rt-new", resp.RefreshToken)
}

func TestExchangeCode(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form map[string]string) {
		require.Equal(t, "authorization_code", form["grant_type"])
		require.Equal(t, "the-code", form["code"])
		_ = json.NewEncoder(w).Encode(Response{AccessToken: "at-3", RefreshToken: "rt-3", ExpiresIn: 3600})
	})
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLog())
	resp, err := m.ExchangeCode(context.Background(), "the-code", "app-id", "app-secret")
	require.NoError(t, err)
	require.Equal(t, "rt-3", resp.RefreshToken)
}

func TestNon2xxPreservesStatus(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form map[string]string) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	})
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLog())
	_, err := m.ExchangeCode(context.Background(), "stale", "app-id", "app-secret")
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.Upstream))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusBadRequest, ae.Status)
	require.Contains(t, ae.Msg, "invalid_grant")
}

func TestUnreachableEndpoint(t *testing.T) {
	m := NewManager("http://127.0.0.1:1", nil, testLog())
	_, err := m.ClientCredentials(context.Background(), "cid", "cs")
	require.True(t, apperr.IsKind(err, apperr.Upstream))
}

func TestMissingAccessTokenRejected(t *testing.T) {
	srv := tokenServer(t, func(w http.ResponseWriter, form map[string]string) {
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	})
	defer srv.Close()

	m := NewManager(srv.URL, nil, testLog())
	_, err := m.ClientCredentials(context.Background(), "cid", "cs")
	require.True(t, apperr.IsKind(err, apperr.Upstream))
}

func TestStateValidity(t *testing.T) {
	now := time.Now()
	require.False(t, State{}.Valid(now))
	require.False(t, State{AccessToken: "x", ExpiresAt: now.Add(-time.Second)}.Valid(now))
	require.True(t, State{AccessToken: "x", ExpiresAt: now.Add(time.Minute)}.Valid(now))
}
