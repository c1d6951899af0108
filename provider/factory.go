package provider

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/evictbus/evictbus/evict"
)

// Factory holds the registered providers in a fixed priority order and
// selects the best available one. Registration happens once at the
// composition root; there is no runtime classpath probing.
type Factory struct {
	// providers is ordered highest priority first. By convention the
	// local no-op provider is registered last so selection always has
	// a fallback.
	providers []evict.Provider
	logger    evict.Logger
}

// NewFactory creates a factory over the given providers, highest
// priority first.
func NewFactory(logger evict.Logger, providers ...evict.Provider) *Factory {
	if logger == nil {
		logger = evict.NewNoOpLogger()
	}
	return &Factory{providers: providers, logger: logger}
}

// SelectBestAvailable returns the first provider whose availability
// probe succeeds. When every probe fails it falls back to the lowest
// priority provider, so a factory that registers the local provider
// last never returns nil.
func (f *Factory) SelectBestAvailable(ctx context.Context) evict.Provider {
	for _, p := range f.providers {
		if p.Available(ctx) {
			f.logger.Info("selected eviction transport", "provider", p.Type())
			return p
		}
		f.logger.Warn("eviction transport unavailable", "provider", p.Type())
	}

	if len(f.providers) == 0 {
		return nil
	}
	last := f.providers[len(f.providers)-1]
	f.logger.Warn("no transport passed its probe, falling back", "provider", last.Type())
	return last
}

// Get returns the registered provider of the given type.
func (f *Factory) Get(providerType string) (evict.Provider, error) {
	for _, p := range f.providers {
		if p.Type() == providerType {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", evict.ErrProviderNotFound, providerType)
}

// Types returns the registered provider types in priority order.
func (f *Factory) Types() []string {
	out := make([]string, len(f.providers))
	for i, p := range f.providers {
		out[i] = p.Type()
	}
	return out
}

// Report probes every registered provider concurrently and returns their
// stats snapshots in priority order. Used by health endpoints, where a
// slow probe on one backend must not serialize behind the others.
func (f *Factory) Report(ctx context.Context) []evict.ProviderStats {
	stats := make([]evict.ProviderStats, len(f.providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range f.providers {
		i, p := i, p
		g.Go(func() error {
			s := p.Stats()
			s.Available = p.Available(ctx)
			stats[i] = s
			return nil
		})
	}
	_ = g.Wait()

	return stats
}

var _ evict.ProviderSelector = (*Factory)(nil)
