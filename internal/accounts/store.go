package accounts

import (
	"context"
	"time"

	"avitolink/internal/avito"
)

// Store persists account records. Secret fields are already ciphertext
// by the time they reach the store; the store never sees plaintext.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context) ([]Account, error)
	ListEternalOnline(ctx context.Context) ([]Account, error)
	Update(ctx context.Context, a Account) error
	Delete(ctx context.Context, id int64) error

	// UpdateTokens overwrites the credential pair after an OAuth
	// exchange or rotation. clientSecret is ciphertext.
	UpdateTokens(ctx context.Context, id int64, clientID, clientSecret string, kind avito.CredentialKind) error
	UpdateStatus(ctx context.Context, id int64, connection, proxy string) error
	UpdateOnline(ctx context.Context, id int64, online bool, checkedAt time.Time) error
	UpdateStats(ctx context.Context, id int64, balance float64, adsCount int, syncedAt time.Time) error
	SetEternalOnline(ctx context.Context, id int64, enabled bool, keepAliveSec int) error
}
