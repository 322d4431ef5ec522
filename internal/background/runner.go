// Package background runs the periodic account maintenance loops:
// presence keepalive and messenger webhook registration.
package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"avitolink/internal/accounts"
)

const (
	keepaliveTick   = 5 * time.Minute
	webhookInterval = 6 * time.Hour
	webhookWarmup   = 5 * time.Second
)

// Runner owns the maintenance goroutines. Start launches them; they
// stop when the context is cancelled and Wait returns after both exit.
type Runner struct {
	svc        *accounts.Service
	webhookURL string
	log        *zap.SugaredLogger
	wg         sync.WaitGroup
}

func NewRunner(svc *accounts.Service, webhookURL string, log *zap.SugaredLogger) *Runner {
	return &Runner{svc: svc, webhookURL: webhookURL, log: log}
}

func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.keepaliveLoop(ctx)
	}()
	if r.webhookURL != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.webhookLoop(ctx)
		}()
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

// keepaliveLoop re-asserts online presence for accounts with eternal
// online enabled whose per-account interval has elapsed.
func (r *Runner) keepaliveLoop(ctx context.Context) {
	t := time.NewTicker(keepaliveTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.keepaliveOnce(ctx)
		}
	}
}

func (r *Runner) keepaliveOnce(ctx context.Context) {
	accs, err := r.svc.ListEternalOnline(ctx)
	if err != nil {
		r.log.Errorw("keepalive: list failed", "err", err)
		return
	}
	now := time.Now()
	for _, a := range accs {
		if a.LastOnlineCheck != nil && now.Sub(*a.LastOnlineCheck) < time.Duration(a.KeepAliveSec)*time.Second {
			continue
		}
		if err := r.svc.SetOnline(ctx, a.ID); err != nil {
			r.log.Warnw("keepalive: set online failed", "account", a.ID, "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// webhookLoop registers the messenger webhook for every account
// shortly after startup and then periodically. Registration is
// idempotent on the marketplace side.
func (r *Runner) webhookLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(webhookWarmup):
	}
	r.registerAll(ctx)

	t := time.NewTicker(webhookInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.registerAll(ctx)
		}
	}
}

func (r *Runner) registerAll(ctx context.Context) {
	accs, err := r.svc.List(ctx)
	if err != nil {
		r.log.Errorw("webhook registration: list failed", "err", err)
		return
	}
	ok := 0
	for _, a := range accs {
		client, err := r.svc.Client(ctx, a.ID)
		if err != nil {
			r.log.Warnw("webhook registration: client build failed", "account", a.ID, "err", err)
			continue
		}
		if err := client.RegisterWebhook(ctx, r.webhookURL); err != nil {
			r.log.Warnw("webhook registration failed", "account", a.ID, "err", err)
			continue
		}
		ok++
		if ctx.Err() != nil {
			return
		}
	}
	r.log.Infow("webhook registration pass done", "registered", ok, "total", len(accs))
}
