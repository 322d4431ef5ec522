package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"avitolink/internal/avito"
	"avitolink/internal/secrets"
)

func TestEnableOnlineLogsFailedPing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/messenger/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	core, logs := observer.New(zap.WarnLevel)
	store := NewMemoryStore()
	svc := NewService(store, secrets.NewDevFallback(), ServiceOptions{
		BaseURL:       srv.URL,
		TokenEndpoint: srv.URL + "/token",
	}, zap.New(core).Sugar())

	a := Account{Name: "acc", ClientID: "id", ClientSecret: "sec",
		CredentialKind: avito.KindClientCredentials, UserID: 42}
	require.NoError(t, store.Create(context.Background(), &a))

	r := chi.NewRouter()
	NewHandlers(svc).Mount(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts/1/online", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.EternalOnlineEnabled)

	found := false
	for _, e := range logs.All() {
		if e.Message == "initial online ping failed" {
			found = true
		}
	}
	assert.True(t, found, "expected a warning about the failed ping")
}
