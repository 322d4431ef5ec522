package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"avitolink/internal/avito"
	"avitolink/internal/secrets"
	"avitolink/pkg/apperr"
)

// fakeMarketplace stands in for both the token endpoint and the API.
type fakeMarketplace struct {
	mu         sync.Mutex
	srv        *httptest.Server
	tokens     map[string]bool // issued bearer tokens
	tokenCalls int
	rejectAuth bool
}

func newFakeMarketplace(t *testing.T) *fakeMarketplace {
	t.Helper()
	f := &fakeMarketplace{tokens: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokenCalls++
		if f.rejectAuth {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}
		tok := "tok-" + r.FormValue("client_id")
		f.tokens[tok] = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": tok, "expires_in": 3600, "token_type": "Bearer",
		})
	})
	authorized := func(r *http.Request) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.tokens[bearerOf(r)]
	}
	mux.HandleFunc("/core/v1/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(avito.Balance{Real: 150.5, Bonus: 9.5})
	})
	mux.HandleFunc("/core/v1/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(avito.ItemsStats{Count: 7, ActiveCount: 5, InactiveCount: 2})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func bearerOf(r *http.Request) string {
	const p = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(p) {
		return h[len(p):]
	}
	return ""
}

func newTestService(t *testing.T, f *fakeMarketplace) (*Service, Store) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, secrets.NewDevFallback(), ServiceOptions{
		BaseURL:       f.srv.URL,
		TokenEndpoint: f.srv.URL + "/token",
	}, zap.NewNop().Sugar())
	return svc, store
}

func validInput() CreateInput {
	return CreateInput{
		Name:         "main account",
		ClientID:     "app-1",
		ClientSecret: "s3cr3t",
		UserID:       42,
	}
}

func TestCreateEncryptsSecretsAtRest(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, store := newTestService(t, f)
	ctx := context.Background()

	in := validInput()
	in.ProxyScheme = "http"
	in.ProxyHost = "proxy.local"
	in.ProxyPort = 8080
	in.ProxyLogin = "user"
	in.ProxyPassword = "pr0xy-pass"

	a, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, a.ID)

	raw, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	c := secrets.NewDevFallback()
	assert.NotEqual(t, "s3cr3t", raw.ClientSecret)
	assert.True(t, c.IsEncrypted(raw.ClientSecret))
	assert.True(t, c.IsEncrypted(raw.ProxyPassword))
	assert.Equal(t, "app-1", raw.ClientID)

	got, err := c.Decrypt(raw.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestCreateValidation(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ClientID: "a", ClientSecret: "b"})
	assert.True(t, apperr.IsKind(err, apperr.Configuration))

	_, err = svc.Create(ctx, CreateInput{Name: "x"})
	assert.True(t, apperr.IsKind(err, apperr.Configuration))

	in := validInput()
	in.ProxyHost = "proxy.local"
	in.ProxyScheme = "carrier-pigeon"
	_, err = svc.Create(ctx, in)
	assert.True(t, apperr.IsKind(err, apperr.Configuration))
}

func TestCreateProbeFailureDoesNotFailCreation(t *testing.T) {
	f := newFakeMarketplace(t)
	f.rejectAuth = true
	svc, _ := newTestService(t, f)

	a, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, a.ConnectionStatus)
}

func TestClientIsCachedAndRebuiltAfterUpdate(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	c1, err := svc.Client(ctx, a.ID)
	require.NoError(t, err)
	c2, err := svc.Client(ctx, a.ID)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	newName := "renamed"
	_, err = svc.Update(ctx, a.ID, UpdateInput{Name: &newName})
	require.NoError(t, err)

	c3, err := svc.Client(ctx, a.ID)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestUpdateEncryptsNewSecret(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, store := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	newSecret := "rotated-secret"
	_, err = svc.Update(ctx, a.ID, UpdateInput{ClientSecret: &newSecret})
	require.NoError(t, err)

	raw, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	c := secrets.NewDevFallback()
	assert.True(t, c.IsEncrypted(raw.ClientSecret))
	got, err := c.Decrypt(raw.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, newSecret, got)
}

func TestSaveOAuthTokensFlipsCredentialKind(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, store := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.SaveOAuthTokens(ctx, a.ID, "at-123", "rt-456"))

	raw, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, avito.KindAuthorizationCode, raw.CredentialKind)
	assert.Equal(t, "at-123", raw.ClientID)

	c := secrets.NewDevFallback()
	rt, err := c.Decrypt(raw.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, "rt-456", rt)
}

func TestSyncStatsPersistsSnapshot(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	got, err := svc.SyncStats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 160.0, got.AccountBalance)
	assert.Equal(t, 7, got.AdsCount)
	require.NotNil(t, got.LastSyncAt)
}

func TestCheckConnectionPersistsStatuses(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, store := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	res, err := svc.CheckConnection(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, res.ConnectionStatus)

	raw, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, raw.ConnectionStatus)
}

func TestDeleteRemovesAccountAndClient(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Client(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	_, err = svc.Get(ctx, a.ID)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	_, err = svc.Client(ctx, a.ID)
	assert.Error(t, err)
}

func TestSetEternalOnline(t *testing.T) {
	f := newFakeMarketplace(t)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	got, err := svc.SetEternalOnline(ctx, a.ID, true, 120)
	require.NoError(t, err)
	assert.True(t, got.EternalOnlineEnabled)
	assert.Equal(t, 120, got.KeepAliveSec)

	listed, err := svc.ListEternalOnline(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	got, err = svc.SetEternalOnline(ctx, a.ID, false, 0)
	require.NoError(t, err)
	assert.False(t, got.EternalOnlineEnabled)
	assert.False(t, got.IsOnline)
}
