package entitlement

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// RecheckConfig bounds a batch recheck run.
type RecheckConfig struct {
	Window      time.Duration
	Concurrency int
	BatchLimit  int
}

// RecheckReport summarizes one run.
type RecheckReport struct {
	Due      int `json:"due"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Rechecker proactively resolves Pro users whose next billing date is near or
// past, so canceled and past-due subscriptions expire without waiting for the
// user to come back.
type Rechecker struct {
	profiles ProfileStore
	resolver *Resolver
	cfg      RecheckConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewRechecker(profiles ProfileStore, resolver *Resolver, cfg RecheckConfig, logger *slog.Logger) *Rechecker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rechecker{
		profiles: profiles,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      resolver.now,
	}
}

// Run resolves every due profile. Individual failures are counted, not
// returned; only failing to list the due set is an error.
func (r *Rechecker) Run(ctx context.Context) (*RecheckReport, error) {
	ids, err := r.profiles.ListDueForRecheck(ctx, r.now().UTC(), r.cfg.Window, r.cfg.BatchLimit)
	if err != nil {
		return nil, unavailable("recheck: listing due profiles failed", err)
	}

	var resolved, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, _, err := r.resolver.resolve(gctx, id, true); err != nil {
				failed.Add(1)
				r.logger.WarnContext(gctx, "recheck failed", "user_id", id, "error", err)
				return nil
			}
			resolved.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := &RecheckReport{Due: len(ids), Resolved: int(resolved.Load()), Failed: int(failed.Load())}
	r.logger.InfoContext(ctx, "recheck finished",
		"due", report.Due, "resolved", report.Resolved, "failed", report.Failed)
	return report, nil
}
