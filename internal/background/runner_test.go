package background

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"avitolink/internal/accounts"
	"avitolink/internal/avito"
	"avitolink/internal/secrets"
)

// fakeMarket serves the token endpoint, the presence endpoint and the
// webhook subscription, counting hits per path.
type fakeMarket struct {
	mu       sync.Mutex
	srv      *httptest.Server
	hits     map[string]int
	failUIDs map[int64]bool // presence pings to reject
}

func newFakeMarket(t *testing.T) *fakeMarket {
	t.Helper()
	f := &fakeMarket{hits: map[string]int{}, failUIDs: map[int64]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/messenger/v2/accounts/", func(w http.ResponseWriter, r *http.Request) {
		var uid int64
		_, _ = fmt.Sscanf(r.URL.Path, "/messenger/v2/accounts/%d/status/online", &uid)
		f.mu.Lock()
		f.hits[fmt.Sprintf("online:%d", uid)]++
		fail := f.failUIDs[uid]
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/messenger/v3/webhook", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits["webhook"]++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMarket) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func newTestRunner(t *testing.T, f *fakeMarket) (*Runner, accounts.Store) {
	t.Helper()
	store := accounts.NewMemoryStore()
	svc := accounts.NewService(store, secrets.NewDevFallback(), accounts.ServiceOptions{
		BaseURL:       f.srv.URL,
		TokenEndpoint: f.srv.URL + "/token",
	}, zap.NewNop().Sugar())
	return NewRunner(svc, "https://hooks.example.com/avito", zap.NewNop().Sugar()), store
}

func seed(t *testing.T, store accounts.Store, a accounts.Account) int64 {
	t.Helper()
	if a.ClientID == "" {
		a.ClientID = "app"
		a.ClientSecret = "secret"
		a.CredentialKind = avito.KindClientCredentials
	}
	require.NoError(t, store.Create(context.Background(), &a))
	return a.ID
}

func TestKeepaliveHonorsPerAccountInterval(t *testing.T) {
	f := newFakeMarket(t)
	r, store := newTestRunner(t, f)
	ctx := context.Background()

	// Due: never pinged before.
	dueID := seed(t, store, accounts.Account{
		Name: "due", UserID: 42,
		EternalOnlineEnabled: true, KeepAliveSec: 60,
	})
	// Fresh: pinged moments ago, interval not elapsed.
	fresh := time.Now()
	seed(t, store, accounts.Account{
		Name: "fresh", UserID: 43,
		EternalOnlineEnabled: true, KeepAliveSec: 3600,
		LastOnlineCheck: &fresh,
	})
	// Not enrolled at all.
	seed(t, store, accounts.Account{Name: "off", UserID: 44})

	r.keepaliveOnce(ctx)

	assert.Equal(t, 1, f.count("online:42"))
	assert.Equal(t, 0, f.count("online:43"))
	assert.Equal(t, 0, f.count("online:44"))

	a, err := store.Get(ctx, dueID)
	require.NoError(t, err)
	assert.True(t, a.IsOnline)
	require.NotNil(t, a.LastOnlineCheck)
}

func TestKeepaliveContinuesPastFailures(t *testing.T) {
	f := newFakeMarket(t)
	f.failUIDs[42] = true
	r, store := newTestRunner(t, f)
	ctx := context.Background()

	badID := seed(t, store, accounts.Account{
		Name: "bad", UserID: 42, EternalOnlineEnabled: true, KeepAliveSec: 60,
	})
	goodID := seed(t, store, accounts.Account{
		Name: "good", UserID: 43, EternalOnlineEnabled: true, KeepAliveSec: 60,
	})

	r.keepaliveOnce(ctx)

	assert.Equal(t, 1, f.count("online:42"))
	assert.Equal(t, 1, f.count("online:43"))

	bad, err := store.Get(ctx, badID)
	require.NoError(t, err)
	assert.False(t, bad.IsOnline)
	good, err := store.Get(ctx, goodID)
	require.NoError(t, err)
	assert.True(t, good.IsOnline)
}

func TestRegisterAllContinuesPastBuildFailures(t *testing.T) {
	f := newFakeMarket(t)
	r, store := newTestRunner(t, f)
	ctx := context.Background()

	// Unbuildable client: the stored proxy scheme is garbage.
	seed(t, store, accounts.Account{
		Name: "broken", UserID: 42,
		ProxyScheme: "gopher", ProxyHost: "proxy.local", ProxyPort: 1,
	})
	seed(t, store, accounts.Account{Name: "healthy", UserID: 43})

	r.registerAll(ctx)

	assert.Equal(t, 1, f.count("webhook"))
}

func TestLoopsStopOnCancel(t *testing.T) {
	f := newFakeMarket(t)
	r, _ := newTestRunner(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
