// Package view implements views and view lists (configuration generations).
//
// A View is built, then frozen, then served. Frozen views are read-only and
// shared by every query that holds a reference. When the last reference is
// dropped the view detaches: it releases its zones, closes its resolver and
// empties its cache.
package view

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jroosing/hydranamed/internal/cache"
	"github.com/jroosing/hydranamed/internal/keyring"
	"github.com/jroosing/hydranamed/internal/resolver"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

var (
	// ErrDuplicateZone is returned when a zone's origin is already in the view.
	ErrDuplicateZone = errors.New("zone already exists in view")
	// ErrDuplicateView is returned when a list already has a view with the same name and class.
	ErrDuplicateView = errors.New("view already exists")
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrFrozen is returned when modifying a view that is no longer being built.
	ErrFrozen = errors.New("view is frozen")
)

// State is the lifecycle stage of a view.
type State int32

const (
	Building State = iota
	Frozen
	Detached
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Frozen:
		return "frozen"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// View is a named, class-scoped zone table with its own cache, resolver and
// keys.
type View struct {
	name  string
	class uint16

	mu       sync.RWMutex
	zones    map[string]*zone.Zone // canonical origin
	cache    *cache.Cache
	resolver *resolver.Resolver
	keys     *keyring.Ring

	state atomic.Int32
	refs  atomic.Int32
}

// New creates a view in the Building state holding one reference.
func New(name string, class uint16) *View {
	v := &View{name: name, class: class, zones: make(map[string]*zone.Zone)}
	v.refs.Store(1)
	return v
}

func (v *View) Name() string  { return v.name }
func (v *View) Class() uint16 { return v.class }

func (v *View) String() string {
	return v.name + "/" + dns.ClassToString[v.class]
}

// State returns the current lifecycle state.
func (v *View) State() State { return State(v.state.Load()) }

// Frozen reports whether the view has been frozen.
func (v *View) Frozen() bool { return v.State() == Frozen }

// AddZone inserts z, taking over the caller's reference on success.
func (v *View) AddZone(z *zone.Zone) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.State() != Building {
		return fmt.Errorf("add zone %s to %s: %w", z, v, ErrFrozen)
	}
	if _, ok := v.zones[z.Origin()]; ok {
		return fmt.Errorf("%s in view %s: %w", z.Origin(), v, ErrDuplicateZone)
	}
	v.zones[z.Origin()] = z
	return nil
}

// FindZone returns the zone with exactly this origin. The view keeps its
// reference; callers that retain the zone past the view's lifetime must Attach.
func (v *View) FindZone(origin string) (*zone.Zone, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if z, ok := v.zones[dns.CanonicalName(origin)]; ok {
		return z, nil
	}
	return nil, fmt.Errorf("zone %s in view %s: %w", origin, v, ErrNotFound)
}

// FindClosest returns the zone whose origin is the longest suffix of qname.
func (v *View) FindClosest(qname string) (*zone.Zone, error) {
	name := dns.CanonicalName(qname)
	v.mu.RLock()
	defer v.mu.RUnlock()
	for {
		if z, ok := v.zones[name]; ok {
			return z, nil
		}
		off, end := dns.NextLabel(name, 0)
		if end {
			break
		}
		name = name[off:]
	}
	if z, ok := v.zones["."]; ok {
		return z, nil
	}
	return nil, fmt.Errorf("zone for %s in view %s: %w", qname, v, ErrNotFound)
}

// Zones returns the zones ordered by origin.
func (v *View) Zones() []*zone.Zone {
	v.mu.RLock()
	out := make([]*zone.Zone, 0, len(v.zones))
	for _, z := range v.zones {
		out = append(out, z)
	}
	v.mu.RUnlock()
	slices.SortFunc(out, func(a, b *zone.Zone) int { return strings.Compare(a.Origin(), b.Origin()) })
	return out
}

// ZoneCount returns the number of zones.
func (v *View) ZoneCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.zones)
}

// SetCache installs the view cache. The view owns it from now on.
func (v *View) SetCache(c *cache.Cache) error {
	return v.set(func() { v.cache = c })
}

// SetResolver installs the view resolver. The view owns it from now on.
func (v *View) SetResolver(r *resolver.Resolver) error {
	return v.set(func() { v.resolver = r })
}

// SetKeys installs the TSIG key ring.
func (v *View) SetKeys(k *keyring.Ring) error {
	return v.set(func() { v.keys = k })
}

func (v *View) set(fn func()) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.State() != Building {
		return fmt.Errorf("configure view %s: %w", v, ErrFrozen)
	}
	fn()
	return nil
}

func (v *View) Cache() *cache.Cache {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cache
}

func (v *View) Resolver() *resolver.Resolver {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.resolver
}

func (v *View) Keys() *keyring.Ring {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys
}

// Freeze makes the view read-only. A view can be frozen once.
func (v *View) Freeze() error {
	if !v.state.CompareAndSwap(int32(Building), int32(Frozen)) {
		return fmt.Errorf("freeze %s (%s): %w", v, v.State(), ErrFrozen)
	}
	return nil
}

// Attach adds a reference and returns v.
func (v *View) Attach() *View {
	if v.refs.Add(1) <= 1 {
		panic("view: attach to detached view " + v.String())
	}
	return v
}

// Detach drops a reference. The last Detach releases the view's zones,
// resolver and cache.
func (v *View) Detach() {
	n := v.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("view: detach of detached view " + v.String())
	}

	v.mu.Lock()
	v.state.Store(int32(Detached))
	zones := v.zones
	v.zones = map[string]*zone.Zone{}
	r, c := v.resolver, v.cache
	v.resolver, v.cache, v.keys = nil, nil, nil
	v.mu.Unlock()

	for _, z := range zones {
		z.Detach()
	}
	if r != nil {
		r.Close()
	}
	if c != nil {
		c.Close()
	}
}

// Refs returns the current reference count.
func (v *View) Refs() int { return int(v.refs.Load()) }
