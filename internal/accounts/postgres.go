// internal/accounts/postgres.go
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"avitolink/internal/avito"
	"avitolink/pkg/apperr"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed account store.
func NewPostgresStore(pool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{pool: pool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS avito_accounts (
  id BIGSERIAL PRIMARY KEY,
  name text NOT NULL,
  client_id text NOT NULL,
  client_secret text NOT NULL,
  credential_kind text NOT NULL DEFAULT 'client_credentials',
  user_id bigint,
  proxy_scheme text,
  proxy_host text,
  proxy_port int,
  proxy_login text,
  proxy_password text,
  eternal_online_enabled boolean NOT NULL DEFAULT false,
  online_keepalive_sec int NOT NULL DEFAULT 300,
  is_online boolean NOT NULL DEFAULT false,
  last_online_check timestamptz,
  connection_status text,
  proxy_status text,
  account_balance double precision NOT NULL DEFAULT 0,
  ads_count int NOT NULL DEFAULT 0,
  last_sync_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill columns added after initial versions
ALTER TABLE avito_accounts ADD COLUMN IF NOT EXISTS credential_kind text NOT NULL DEFAULT 'client_credentials';
ALTER TABLE avito_accounts ADD COLUMN IF NOT EXISTS online_keepalive_sec int NOT NULL DEFAULT 300;
`)
	return err
}

const accountCols = `id, name, client_id, client_secret, credential_kind, COALESCE(user_id,0),
COALESCE(proxy_scheme,''), COALESCE(proxy_host,''), COALESCE(proxy_port,0), COALESCE(proxy_login,''), COALESCE(proxy_password,''),
eternal_online_enabled, online_keepalive_sec, is_online, last_online_check,
COALESCE(connection_status,''), COALESCE(proxy_status,''), account_balance, ads_count, last_sync_at, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var userID int64
	err := row.Scan(&a.ID, &a.Name, &a.ClientID, &a.ClientSecret, &a.CredentialKind, &userID,
		&a.ProxyScheme, &a.ProxyHost, &a.ProxyPort, &a.ProxyLogin, &a.ProxyPassword,
		&a.EternalOnlineEnabled, &a.KeepAliveSec, &a.IsOnline, &a.LastOnlineCheck,
		&a.ConnectionStatus, &a.ProxyStatus, &a.AccountBalance, &a.AdsCount, &a.LastSyncAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, apperr.New(apperr.NotFound, "account not found")
	}
	if err != nil {
		return Account{}, err
	}
	a.UserID = userID
	return a, nil
}

func (s *pgStore) Create(ctx context.Context, a *Account) error {
	return s.pool.QueryRow(ctx, `
INSERT INTO avito_accounts (name, client_id, client_secret, credential_kind, user_id,
  proxy_scheme, proxy_host, proxy_port, proxy_login, proxy_password,
  eternal_online_enabled, online_keepalive_sec)
VALUES ($1,$2,$3,$4,NULLIF($5,0),NULLIF($6,''),NULLIF($7,''),NULLIF($8,0),NULLIF($9,''),NULLIF($10,''),$11,$12)
RETURNING id, created_at, updated_at`,
		a.Name, a.ClientID, a.ClientSecret, a.CredentialKind, a.UserID,
		a.ProxyScheme, a.ProxyHost, a.ProxyPort, a.ProxyLogin, a.ProxyPassword,
		a.EternalOnlineEnabled, a.KeepAliveSec,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (s *pgStore) Get(ctx context.Context, id int64) (Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountCols+` FROM avito_accounts WHERE id=$1`, id))
}

func (s *pgStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountCols+` FROM avito_accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (s *pgStore) ListEternalOnline(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountCols+` FROM avito_accounts WHERE eternal_online_enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Account, error) {
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgStore) Update(ctx context.Context, a Account) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE avito_accounts SET name=$2, client_id=$3, client_secret=$4, credential_kind=$5, user_id=NULLIF($6,0),
  proxy_scheme=NULLIF($7,''), proxy_host=NULLIF($8,''), proxy_port=NULLIF($9,0), proxy_login=NULLIF($10,''), proxy_password=NULLIF($11,''),
  eternal_online_enabled=$12, online_keepalive_sec=$13, updated_at=NOW()
WHERE id=$1`,
		a.ID, a.Name, a.ClientID, a.ClientSecret, a.CredentialKind, a.UserID,
		a.ProxyScheme, a.ProxyHost, a.ProxyPort, a.ProxyLogin, a.ProxyPassword,
		a.EternalOnlineEnabled, a.KeepAliveSec)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}

func (s *pgStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM avito_accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}

func (s *pgStore) UpdateTokens(ctx context.Context, id int64, clientID, clientSecret string, kind avito.CredentialKind) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE avito_accounts SET client_id=$2, client_secret=$3, credential_kind=$4, updated_at=NOW() WHERE id=$1`,
		id, clientID, clientSecret, kind)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}

func (s *pgStore) UpdateStatus(ctx context.Context, id int64, connection, proxy string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE avito_accounts SET connection_status=$2, proxy_status=$3, updated_at=NOW() WHERE id=$1`,
		id, connection, proxy)
	return err
}

func (s *pgStore) UpdateOnline(ctx context.Context, id int64, online bool, checkedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE avito_accounts SET is_online=$2, last_online_check=$3, updated_at=NOW() WHERE id=$1`,
		id, online, checkedAt)
	return err
}

func (s *pgStore) UpdateStats(ctx context.Context, id int64, balance float64, adsCount int, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE avito_accounts SET account_balance=$2, ads_count=$3, last_sync_at=$4, updated_at=NOW() WHERE id=$1`,
		id, balance, adsCount, syncedAt)
	return err
}

func (s *pgStore) SetEternalOnline(ctx context.Context, id int64, enabled bool, keepAliveSec int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE avito_accounts SET eternal_online_enabled=$2, online_keepalive_sec=$3, is_online=(is_online AND $2), updated_at=NOW() WHERE id=$1`,
		id, enabled, keepAliveSec)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}
