package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"avitolink/internal/avito"
	"avitolink/pkg/apperr"
)

// memStore is an in-memory Store for tests and DB-less development.
type memStore struct {
	mu   sync.RWMutex
	next int64
	rows map[int64]Account
}

// NewMemoryStore constructs an empty in-memory account store.
func NewMemoryStore() Store {
	return &memStore{rows: map[int64]Account{}}
}

func (s *memStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	a.ID = s.next
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.rows[a.ID] = *a
	return nil
}

func (s *memStore) Get(_ context.Context, id int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[id]
	if !ok {
		return Account{}, apperr.New(apperr.NotFound, "account not found")
	}
	return a, nil
}

func (s *memStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListEternalOnline(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, a := range s.rows {
		if a.EternalOnlineEnabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Update(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[a.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "account not found")
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.rows[a.ID] = a
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return apperr.New(apperr.NotFound, "account not found")
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) mutate(id int64, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return apperr.New(apperr.NotFound, "account not found")
	}
	fn(&a)
	a.UpdatedAt = time.Now().UTC()
	s.rows[id] = a
	return nil
}

func (s *memStore) UpdateTokens(_ context.Context, id int64, clientID, clientSecret string, kind avito.CredentialKind) error {
	return s.mutate(id, func(a *Account) {
		a.ClientID = clientID
		a.ClientSecret = clientSecret
		a.CredentialKind = kind
	})
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, connection, proxy string) error {
	return s.mutate(id, func(a *Account) {
		a.ConnectionStatus = connection
		a.ProxyStatus = proxy
	})
}

func (s *memStore) UpdateOnline(_ context.Context, id int64, online bool, checkedAt time.Time) error {
	return s.mutate(id, func(a *Account) {
		a.IsOnline = online
		t := checkedAt
		a.LastOnlineCheck = &t
	})
}

func (s *memStore) UpdateStats(_ context.Context, id int64, balance float64, adsCount int, syncedAt time.Time) error {
	return s.mutate(id, func(a *Account) {
		a.AccountBalance = balance
		a.AdsCount = adsCount
		t := syncedAt
		a.LastSyncAt = &t
	})
}

func (s *memStore) SetEternalOnline(_ context.Context, id int64, enabled bool, keepAliveSec int) error {
	return s.mutate(id, func(a *Account) {
		a.EternalOnlineEnabled = enabled
		a.KeepAliveSec = keepAliveSec
		if !enabled {
			a.IsOnline = false
		}
	})
}
