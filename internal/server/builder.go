package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jroosing/hydranamed/internal/cache"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/keyring"
	"github.com/jroosing/hydranamed/internal/resolver"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// ViewBuilder attaches the per-view resources to a staged view and freezes
// it.
type ViewBuilder struct {
	hints  *zone.Database
	logger *slog.Logger
}

// NewViewBuilder returns a builder attaching hints to class IN resolvers.
func NewViewBuilder(hints *zone.Database, logger *slog.Logger) *ViewBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewBuilder{hints: hints, logger: logger}
}

// Build gives v a cache, a resolver and a key ring, then freezes it.
// Resources are attached to v as soon as they exist so that releasing the
// staged generation frees them if a later step fails.
func (b *ViewBuilder) Build(ctx context.Context, v *view.View, cfg *config.Config) error {
	c := cache.New(v.Class(), cache.DefaultMaxEntries)
	if err := v.SetCache(c); err != nil {
		c.Close()
		return err
	}
	c.SetCleaningInterval(time.Duration(cfg.CleaningInterval()) * time.Second)

	if f := cfg.CacheFile(); f != "" {
		if !filepath.IsAbs(f) && cfg.Directory() != "" {
			f = filepath.Join(cfg.Directory(), f)
		}
		if err := c.Load(ctx, f); err != nil {
			return fmt.Errorf("view %s: %w", v, err)
		}
		b.logger.Debug("cache snapshot loaded", "view", v.String(), "file", f, "entries", c.Len())
	}

	var upstream resolver.Exchanger
	if servers := cfg.Forwarders(); len(servers) > 0 {
		fw, err := resolver.NewForwarder(servers, 0)
		if err != nil {
			return fmt.Errorf("%w: view %s: %w", config.ErrParse, v, err)
		}
		upstream = fw
	}
	r, err := resolver.New(v.Class(), c, cfg.ResolverTasks(), upstream)
	if err != nil {
		return fmt.Errorf("%w: view %s: %w", ErrResource, v, err)
	}
	if err := v.SetResolver(r); err != nil {
		r.Close()
		return err
	}
	if v.Class() == dns.ClassINET && b.hints != nil {
		r.SetHints(b.hints)
	}

	lists := [][]config.KeyConfig{cfg.Keys}
	if vc := viewStatement(cfg, v); vc != nil {
		lists = append(lists, vc.Keys)
	}
	keys, err := keyring.New(lists...)
	if err != nil {
		return fmt.Errorf("%w: view %s: %w", config.ErrParse, v, err)
	}
	if err := v.SetKeys(keys); err != nil {
		return err
	}

	return v.Freeze()
}

// viewStatement returns the view statement v was staged from, matched by name
// and class.
func viewStatement(cfg *config.Config, v *view.View) *config.ViewConfig {
	for _, vc := range cfg.FindViews(v.Name()) {
		if c, err := parseClass(vc.ClassName()); err == nil && c == v.Class() {
			return vc
		}
	}
	return nil
}
