package intel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberpulse/cyberpulse/server/internal/config"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
)

// Looker performs an uncached reputation lookup.
type Looker interface {
	Lookup(ctx context.Context, ip string) (Reputation, error)
}

// Enricher resolves reputations through an optional cache and a Looker.
type Enricher struct {
	looker      Looker
	cache       Cache // may be nil
	ttl         time.Duration
	highRisk    int
	concurrency int
	metrics     *metrics.Metrics // may be nil
}

// NewEnricher builds an Enricher. cache and m may be nil.
func NewEnricher(l Looker, cache Cache, cfg config.IntelConfig, m *metrics.Metrics) *Enricher {
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 1
	}
	return &Enricher{
		looker:      l,
		cache:       cache,
		ttl:         cfg.Cache.TTL,
		highRisk:    cfg.HighRiskScore,
		concurrency: conc,
		metrics:     m,
	}
}

// Unknown is the reputation reported when a lookup fails.
func (e *Enricher) Unknown(ip string) Reputation {
	return Reputation{IP: ip, Score: 0, Country: UnknownCountry, RiskLevel: RiskLevel(0, e.highRisk)}
}

// Enrich returns the reputation of ip. It never fails; errors degrade to
// Unknown and are not cached.
func (e *Enricher) Enrich(ctx context.Context, ip string) Reputation {
	if ip == "" {
		return e.Unknown(ip)
	}
	if e.cache != nil {
		rep, ok, err := e.cache.Get(ctx, ip)
		if err != nil {
			slog.Debug("intel: cache get failed", "ip", ip, "err", err)
		}
		if ok {
			e.count("cache_hit")
			rep.RiskLevel = RiskLevel(rep.Score, e.highRisk)
			return rep
		}
	}

	rep, err := e.looker.Lookup(ctx, ip)
	if err != nil {
		e.count("error")
		if !errors.Is(err, ErrNoAPIKey) {
			slog.Warn("intel: lookup failed", "ip", ip, "err", err)
		}
		return e.Unknown(ip)
	}
	e.count("ok")
	rep.IP = ip
	rep.RiskLevel = RiskLevel(rep.Score, e.highRisk)

	if e.cache != nil && e.ttl > 0 {
		if err := e.cache.Set(ctx, rep, e.ttl); err != nil {
			slog.Debug("intel: cache set failed", "ip", ip, "err", err)
		}
	}
	return rep
}

// EnrichAll resolves every distinct IP in ips with at most the configured
// number of lookups in flight. It returns early only if ctx is cancelled.
func (e *Enricher) EnrichAll(ctx context.Context, ips []string) (map[string]Reputation, error) {
	out := make(map[string]Reputation, len(ips))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	seen := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep := e.Enrich(gctx, ip)
			mu.Lock()
			out[ip] = rep
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Enricher) count(result string) {
	if e.metrics != nil {
		e.metrics.IntelLookups.WithLabelValues(result).Inc()
	}
}
