package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/metrics"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/jroosing/hydranamed/internal/zonemgr"
	"github.com/miekg/dns"
)

// classNames accepts the long mnemonics as well as the ones miekg/dns knows.
var classNames = map[string]uint16{
	"INTERNET": dns.ClassINET,
	"CHAOS":    dns.ClassCHAOS,
	"HESIOD":   dns.ClassHESIOD,
}

func parseClass(s string) (uint16, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if c, ok := classNames[s]; ok {
		return c, nil
	}
	if c, ok := dns.StringToClass[s]; ok && c != dns.ClassANY && c != dns.ClassNONE {
		return c, nil
	}
	return 0, fmt.Errorf("unknown class %q", s)
}

// ZoneReconciler places each configured zone into the staging generation,
// reusing the production zone when its identity and backing data are
// unchanged.
type ZoneReconciler struct {
	state   *State
	zonemgr *zonemgr.Manager
	logger  *slog.Logger
}

// NewZoneReconciler returns a reconciler reading production from state and
// registering new zones with zm.
func NewZoneReconciler(state *State, zm *zonemgr.Manager, logger *slog.Logger) *ZoneReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZoneReconciler{state: state, zonemgr: zm, logger: logger}
}

// Reconcile adds the zone of stmt to st. Any error aborts the configuration.
func (r *ZoneReconciler) Reconcile(st *stage, cfg *config.Config, stmt config.ZoneStatement) error {
	zc := stmt.Zone
	if _, ok := dns.IsDomainName(zc.Name); !ok || zc.Name == "" {
		return fmt.Errorf("%w: invalid zone name %q", zone.ErrConfig, zc.Name)
	}
	origin := dns.CanonicalName(zc.Name)

	class, err := parseClass(stmt.ClassName())
	if err != nil {
		return fmt.Errorf("%w: zone %s: %w", zone.ErrConfig, origin, err)
	}
	if stmt.View != nil && stmt.View.Class != "" {
		vclass, err := parseClass(stmt.View.Class)
		if err != nil {
			return fmt.Errorf("%w: view %s: %w", zone.ErrConfig, stmt.View.Name, err)
		}
		if vclass != class {
			return fmt.Errorf("%w: zone %s class %s does not match view %s class %s", zone.ErrConfig,
				origin, dns.ClassToString[class], stmt.View.Name, dns.ClassToString[vclass])
		}
	}

	settings, err := zone.NewSettings(zc, cfg.Directory())
	if err != nil {
		return err
	}

	v, err := st.view(stmt.ViewName(), class)
	if err != nil {
		return err
	}
	if _, err := v.FindZone(origin); err == nil {
		return fmt.Errorf("zone %s in view %s: %w", origin, v, view.ErrDuplicateZone)
	}

	z := r.reusable(stmt.ViewName(), class, origin, settings)
	outcome := "reused"
	if z == nil {
		outcome = "created"
		if z, err = zone.New(origin, class); err != nil {
			return err
		}
		if err := r.zonemgr.Manage(z); err != nil {
			z.Detach()
			return fmt.Errorf("%w: %w", ErrResource, err)
		}
		if err := z.Configure(settings); err != nil {
			z.Detach()
			return err
		}
	}

	if err := v.AddZone(z); err != nil {
		z.Detach()
		return err
	}
	if outcome == "reused" {
		st.deferConfigure(z, settings)
	}
	metrics.ZonesReconciled.WithLabelValues(outcome).Inc()
	r.logger.Debug("zone reconciled", "zone", z.String(), "view", v.Name(), "outcome", outcome)
	return nil
}

// reusable returns an attached production zone that can serve under
// settings, or nil.
func (r *ZoneReconciler) reusable(viewName string, class uint16, origin string, settings *zone.Settings) *zone.Zone {
	l := r.state.Views()
	defer l.Release()

	pv, err := l.Find(viewName, class)
	if err != nil {
		return nil
	}
	z, err := pv.FindZone(origin)
	if err != nil {
		return nil
	}
	if !zone.Reusable(z, class, settings) {
		return nil
	}
	return z.Attach()
}
