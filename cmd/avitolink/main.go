package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avitolink/internal/accounts"
	"avitolink/internal/background"
	"avitolink/internal/messenger"
	"avitolink/internal/oauth"
	"avitolink/internal/secrets"
	"avitolink/pkg/config"
	pdb "avitolink/pkg/db"
	"avitolink/pkg/logger"
	"avitolink/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("config", "err", err)
	}
	var cipher *secrets.Cipher
	if len(cfg.EncryptionKey) >= config.MinEncryptionKeyLen {
		c, err := secrets.New(cfg.EncryptionKey)
		if err != nil {
			log.Fatalw("encryption key", "err", err)
		}
		cipher = c
	} else {
		log.Warnw("ENCRYPTION_KEY missing or short, using dev fallback key")
		cipher = secrets.NewDevFallback()
	}

	pool := pdb.MustConnect(cfg, log)
	rdb := pdb.MustRedis(cfg, log)

	var store accounts.Store
	if pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := accounts.EnsureSchema(ctx, pool); err != nil {
			cancel()
			log.Fatalw("schema", "err", err)
		}
		cancel()
		store = accounts.NewPostgresStore(pool, log)
	} else {
		log.Warnw("DATABASE_URL not set, accounts are held in memory")
		store = accounts.NewMemoryStore()
	}

	svc := accounts.NewService(store, cipher, accounts.ServiceOptions{
		OAuthAppID:     cfg.OAuthClientID,
		OAuthAppSecret: cfg.OAuthClientSecret,
		CacheSize:      cfg.ClientCacheSize,
		CacheTTL:       cfg.ClientCacheTTL,
	}, log)

	var set jwk.Set
	if cfg.AdminJWKSURL != "" {
		set = middleware.MustJWKS(cfg.AdminJWKSURL)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.CORS(splitCSV(cfg.AdminCORSOrigins)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	oauth.NewHandlers(oauth.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURI:  cfg.OAuthRedirectURI,
		Scopes:       cfg.OAuthScopes,
		FrontendBase: cfg.FrontendBaseURL,
	}, svc, rdb, log).Mount(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AdminAuth(set, cfg.AdminOIDCIssuer, cfg.AdminOIDCAud, log))
		accounts.NewHandlers(svc).Mount(r, messenger.NewHandlers(svc).Mount)
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	runner := background.NewRunner(svc, cfg.WebhookURL, log)
	runner.Start(bgCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("avitolink listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutting down")

	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("shutdown", "err", err)
	}
	runner.Wait()
	svc.Cache().ClearAll()
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
