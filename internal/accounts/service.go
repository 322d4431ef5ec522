package accounts

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"avitolink/internal/avito"
	"avitolink/internal/clientcache"
	"avitolink/internal/proxyconf"
	"avitolink/internal/secrets"
	"avitolink/internal/token"
	"avitolink/pkg/apperr"
)

// ServiceOptions carries the marketplace endpoints and the OAuth
// application identity used for refresh grants.
type ServiceOptions struct {
	BaseURL        string
	TokenEndpoint  string
	OAuthAppID     string
	OAuthAppSecret string
	CacheSize      int
	CacheTTL       time.Duration
}

// Service is the account lifecycle coordinator. Every mutation that
// can change how a client behaves invalidates that account's cached
// client; reads are served through the cache.
type Service struct {
	store  Store
	cipher *secrets.Cipher
	cache  *clientcache.Cache[*avito.Client]
	opts   ServiceOptions
	log    *zap.SugaredLogger
}

func NewService(store Store, cipher *secrets.Cipher, opts ServiceOptions, log *zap.SugaredLogger) *Service {
	if opts.BaseURL == "" {
		opts.BaseURL = avito.DefaultBaseURL
	}
	if opts.TokenEndpoint == "" {
		opts.TokenEndpoint = token.DefaultEndpoint
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = clientcache.DefaultSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = clientcache.DefaultTTL
	}
	s := &Service{store: store, cipher: cipher, opts: opts, log: log}
	s.cache = clientcache.New[*avito.Client](opts.CacheSize, opts.CacheTTL, s.buildClient, log)
	return s
}

// Cache exposes the client cache for shutdown disposal.
func (s *Service) Cache() *clientcache.Cache[*avito.Client] { return s.cache }

// buildClient loads the record, decrypts secrets in memory only and
// assembles a proxied client. Decrypt failures surface as errors; a
// ciphertext is never passed through as if it were a credential.
func (s *Service) buildClient(ctx context.Context, id int64) (*avito.Client, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	secret, err := s.cipher.DecryptIfNeeded(a.ClientSecret)
	if err != nil {
		return nil, apperr.Wrap(apperr.Integrity, "client secret", err)
	}
	proxyPass, err := s.cipher.DecryptIfNeeded(a.ProxyPassword)
	if err != nil {
		return nil, apperr.Wrap(apperr.Integrity, "proxy password", err)
	}
	desc, err := proxyconf.Resolve(a.ProxyScheme, a.ProxyHost, a.ProxyPort, a.ProxyLogin, proxyPass)
	if err != nil {
		return nil, err
	}
	kind := a.CredentialKind
	if kind == "" {
		kind = avito.KindClientCredentials
	}
	creds := avito.Credentials{
		Kind:         kind,
		ClientID:     a.ClientID,
		ClientSecret: secret,
		UserID:       a.UserID,
	}
	return avito.NewClient(creds, avito.Options{
		BaseURL:        s.opts.BaseURL,
		TokenEndpoint:  s.opts.TokenEndpoint,
		OAuthAppID:     s.opts.OAuthAppID,
		OAuthAppSecret: s.opts.OAuthAppSecret,
		Proxy:          desc,
		Sink:           s.tokenSink(id),
		Log:            s.log,
	}), nil
}

// tokenSink persists a rotated access/refresh pair for one account.
// The access token goes to the client_id column as-is, the refresh
// token is encrypted. Persist happens before the client proceeds so a
// crash cannot strand the only copy of the rotated pair in memory.
func (s *Service) tokenSink(id int64) avito.TokenSink {
	return func(ctx context.Context, accessToken, refreshToken string) error {
		enc, err := s.cipher.Encrypt(refreshToken)
		if err != nil {
			return err
		}
		return s.store.UpdateTokens(ctx, id, accessToken, enc, avito.KindAuthorizationCode)
	}
}

// Client returns the cached marketplace client for an account,
// building it on miss.
func (s *Service) Client(ctx context.Context, id int64) (*avito.Client, error) {
	return s.cache.GetOrCreate(ctx, id)
}

// Create validates and persists a new account, encrypting secrets
// before they touch the store, then probes connectivity. A failed
// probe marks the account but does not fail the creation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Account{}, apperr.New(apperr.Configuration, "name is required")
	}
	if in.ClientID == "" || in.ClientSecret == "" {
		return Account{}, apperr.New(apperr.Configuration, "clientId and clientSecret are required")
	}
	if _, err := proxyconf.Resolve(in.ProxyScheme, in.ProxyHost, in.ProxyPort, in.ProxyLogin, in.ProxyPassword); err != nil {
		return Account{}, err
	}
	encSecret, err := s.cipher.EncryptIfNeeded(in.ClientSecret)
	if err != nil {
		return Account{}, err
	}
	encProxyPass, err := s.cipher.EncryptIfNeeded(in.ProxyPassword)
	if err != nil {
		return Account{}, err
	}
	keepAlive := in.KeepAliveSec
	if keepAlive <= 0 {
		keepAlive = 300
	}
	a := Account{
		Name:                 strings.TrimSpace(in.Name),
		ClientID:             in.ClientID,
		ClientSecret:         encSecret,
		CredentialKind:       avito.KindClientCredentials,
		UserID:               in.UserID,
		ProxyScheme:          in.ProxyScheme,
		ProxyHost:            in.ProxyHost,
		ProxyPort:            in.ProxyPort,
		ProxyLogin:           in.ProxyLogin,
		ProxyPassword:        encProxyPass,
		EternalOnlineEnabled: in.EternalOnlineEnabled,
		KeepAliveSec:         keepAlive,
		ConnectionStatus:     StatusNotChecked,
		ProxyStatus:          StatusNotChecked,
	}
	if err := s.store.Create(ctx, &a); err != nil {
		return Account{}, err
	}
	if res, err := s.CheckConnection(ctx, a.ID); err == nil {
		a.ConnectionStatus = res.ConnectionStatus
		a.ProxyStatus = res.ProxyStatus
	} else {
		s.log.Warnw("post-create connectivity probe failed", "account", a.ID, "err", err)
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

// Update applies a partial change and unconditionally invalidates the
// cached client. Cheaper than diffing which fields affect client
// behavior, and a spurious rebuild is harmless.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return Account{}, apperr.New(apperr.Configuration, "name cannot be empty")
		}
		a.Name = strings.TrimSpace(*in.Name)
	}
	if in.ClientID != nil {
		a.ClientID = *in.ClientID
		// A fresh key pair means static app credentials again.
		a.CredentialKind = avito.KindClientCredentials
	}
	if in.ClientSecret != nil {
		enc, err := s.cipher.EncryptIfNeeded(*in.ClientSecret)
		if err != nil {
			return Account{}, err
		}
		a.ClientSecret = enc
		a.CredentialKind = avito.KindClientCredentials
	}
	if in.UserID != nil {
		a.UserID = *in.UserID
	}
	if in.ProxyScheme != nil {
		a.ProxyScheme = *in.ProxyScheme
	}
	if in.ProxyHost != nil {
		a.ProxyHost = *in.ProxyHost
	}
	if in.ProxyPort != nil {
		a.ProxyPort = *in.ProxyPort
	}
	if in.ProxyLogin != nil {
		a.ProxyLogin = *in.ProxyLogin
	}
	if in.ProxyPassword != nil {
		enc, err := s.cipher.EncryptIfNeeded(*in.ProxyPassword)
		if err != nil {
			return Account{}, err
		}
		a.ProxyPassword = enc
	}
	if in.EternalOnlineEnabled != nil {
		a.EternalOnlineEnabled = *in.EternalOnlineEnabled
	}
	if in.KeepAliveSec != nil {
		a.KeepAliveSec = *in.KeepAliveSec
	}
	plainPass, err := s.cipher.DecryptIfNeeded(a.ProxyPassword)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.Integrity, "proxy password", err)
	}
	if _, err := proxyconf.Resolve(a.ProxyScheme, a.ProxyHost, a.ProxyPort, a.ProxyLogin, plainPass); err != nil {
		return Account{}, err
	}
	if err := s.store.Update(ctx, a); err != nil {
		return Account{}, err
	}
	s.cache.Invalidate(id)
	return s.store.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	s.cache.Invalidate(id)
	return s.store.Delete(ctx, id)
}

// SaveOAuthTokens stores an exchanged access/refresh pair and flips
// the account to the rotating credential kind.
func (s *Service) SaveOAuthTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	enc, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	if err := s.store.UpdateTokens(ctx, id, accessToken, enc, avito.KindAuthorizationCode); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	return nil
}

// StoredRefreshToken returns the decrypted refresh token for an
// account that went through the authorization-code flow.
func (s *Service) StoredRefreshToken(ctx context.Context, id int64) (string, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if a.CredentialKind != avito.KindAuthorizationCode {
		return "", apperr.New(apperr.Configuration, "account has no refresh token, complete the oauth flow first")
	}
	rt, err := s.cipher.DecryptIfNeeded(a.ClientSecret)
	if err != nil {
		return "", apperr.Wrap(apperr.Integrity, "refresh token", err)
	}
	return rt, nil
}

// CheckConnection probes the marketplace through the account's client
// and persists the outcome. Probe errors become a persisted "error"
// status, not a request failure.
func (s *Service) CheckConnection(ctx context.Context, id int64) (ConnectionResult, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return ConnectionResult{}, err
	}
	res := ConnectionResult{ConnectionStatus: StatusError, ProxyStatus: StatusNotChecked}
	client, err := s.Client(ctx, id)
	if err != nil {
		s.log.Warnw("connection check build failed", "account", id, "err", err)
	} else {
		if client.HealthCheck(ctx) {
			res.ConnectionStatus = StatusConnected
		} else {
			res.ConnectionStatus = StatusDisconnected
		}
		if a, err := s.store.Get(ctx, id); err == nil && a.ProxyHost != "" {
			if client.ProxyCheck(ctx) {
				res.ProxyStatus = StatusConnected
			} else {
				res.ProxyStatus = StatusError
			}
		}
	}
	if err := s.store.UpdateStatus(ctx, id, res.ConnectionStatus, res.ProxyStatus); err != nil {
		return ConnectionResult{}, err
	}
	return res, nil
}

// SyncStats pulls balance and listing counts and persists the snapshot.
func (s *Service) SyncStats(ctx context.Context, id int64) (Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	client, err := s.Client(ctx, id)
	if err != nil {
		return Account{}, err
	}
	bal, err := client.Balance(ctx)
	if err != nil {
		return Account{}, err
	}
	adsCount := a.AdsCount
	if stats, err := client.ItemsStats(ctx, a.UserID); err == nil {
		adsCount = stats.Count
	} else {
		s.log.Warnw("items stats unavailable during sync", "account", id, "err", err)
	}
	if err := s.store.UpdateStats(ctx, id, bal.Real+bal.Bonus, adsCount, time.Now().UTC()); err != nil {
		return Account{}, err
	}
	return s.store.Get(ctx, id)
}

// SetOnline pushes online presence for the account and records the
// check time. The outcome is persisted either way; a failed ping is
// still returned so callers can log it.
func (s *Service) SetOnline(ctx context.Context, id int64) error {
	client, err := s.Client(ctx, id)
	if err != nil {
		return err
	}
	pingErr := client.SetOnline(ctx)
	if err := s.store.UpdateOnline(ctx, id, pingErr == nil, time.Now().UTC()); err != nil {
		return err
	}
	return pingErr
}

// SetEternalOnline toggles the keepalive loop membership for an
// account. Disabling also clears the online flag.
func (s *Service) SetEternalOnline(ctx context.Context, id int64, enabled bool, keepAliveSec int) (Account, error) {
	if keepAliveSec <= 0 {
		keepAliveSec = 300
	}
	if err := s.store.SetEternalOnline(ctx, id, enabled, keepAliveSec); err != nil {
		return Account{}, err
	}
	return s.store.Get(ctx, id)
}

// ListEternalOnline feeds the background keepalive loop.
func (s *Service) ListEternalOnline(ctx context.Context) ([]Account, error) {
	return s.store.ListEternalOnline(ctx)
}
