package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/metrics"
)

const defaultDiscoveryTimeout = 10 * time.Second

// DiscoverFunc connects to one provider and returns its catalog.
type DiscoverFunc func(ctx context.Context, p *Provider) (*Catalog, error)

// Aggregator builds a merged Toolset from every enabled provider in the
// registry. Providers are queried concurrently; a provider that fails
// or times out is skipped, never failing the aggregation.
type Aggregator struct {
	registry *Registry
	logger   *zap.Logger
	timeout  time.Duration
	discover DiscoverFunc
}

func NewAggregator(registry *Registry, logger *zap.Logger, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	return &Aggregator{
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		discover: discoverProvider,
	}
}

// SetDiscovery overrides how provider catalogs are fetched. Tests and
// alternative transports use it; the default is MCP discovery.
func (a *Aggregator) SetDiscovery(fn DiscoverFunc) {
	a.discover = fn
}

// Collect discovers tools from all enabled providers and merges them
// into one Toolset. Collisions across providers resolve to the catalog
// of the later provider in registration order. An empty toolset is a
// valid result; the caller decides whether to proceed without tools.
func (a *Aggregator) Collect(ctx context.Context) *Toolset {
	providers := a.registry.Enabled()

	catalogs := make([]*Catalog, len(providers))
	errs := make([]error, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p *Provider) {
			defer wg.Done()

			// The MCP SSE transport ties its event stream to the
			// Connect context, so the session must outlive discovery:
			// its context is released by Catalog.Close, and the
			// discovery timeout is a watchdog that only fires while
			// the handshake is still running.
			pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			watchdog := time.AfterFunc(a.timeout, cancel)

			cat, err := a.discover(pctx, p)
			watchdog.Stop()
			if err == nil && pctx.Err() != nil {
				_ = cat.Close()
				cat, err = nil, apperrors.New(apperrors.ErrCodeToolProvider,
					fmt.Sprintf("discovery timed out for %s", p.Name), pctx.Err())
			}
			if err != nil {
				cancel()
				catalogs[i], errs[i] = nil, err
				return
			}

			base := cat.CloseFn
			cat.CloseFn = func() error {
				defer cancel()
				if base == nil {
					return nil
				}
				return base()
			}
			catalogs[i], errs[i] = cat, nil
		}(i, p)
	}
	wg.Wait()

	set := newToolset()
	var failures *multierror.Error
	for i, p := range providers {
		if errs[i] != nil {
			failures = multierror.Append(failures, errs[i])
			metrics.ToolDiscoveryFailures.WithLabelValues(p.Name).Inc()
			a.logger.Warn("tool discovery failed, skipping provider",
				zap.String("provider", p.Name),
				zap.String("url", p.URL),
				zap.Error(errs[i]))
			continue
		}
		for _, name := range set.add(catalogs[i]) {
			a.logger.Warn("tool name collision, later provider wins",
				zap.String("tool", name),
				zap.String("provider", p.Name))
		}
	}

	if err := failures.ErrorOrNil(); err != nil {
		a.logger.Info("tool aggregation completed with failures",
			zap.Int("providers", len(providers)),
			zap.Int("tools", set.Len()),
			zap.Int("failed", len(failures.Errors)))
	}
	return set
}
