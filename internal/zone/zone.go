// Package zone implements the in-memory zone object shared between
// configuration generations.
//
// A Zone is identified by its origin and class. Its settings and database are
// swapped atomically so that a zone can be reused across reconfigurations
// while queries keep reading it. Zones are reference counted; when the last
// reference is dropped the release hooks run (the zone manager uses one to
// stop maintaining the zone) and the database is discarded.
package zone

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

var (
	// ErrLoad marks a failure to read or index zone data.
	ErrLoad = errors.New("zone load error")
	// ErrNoData is returned when a slave or stub zone has no local copy yet.
	ErrNoData = errors.New("zone has no local data")
)

// Zone is safe for concurrent use.
type Zone struct {
	origin string
	class  uint16

	settings atomic.Pointer[Settings]
	db       atomic.Pointer[Database]
	loadedAt atomic.Int64 // source mtime of the loaded data, unix nanos

	refs atomic.Int32

	mu        sync.Mutex
	loadMu    sync.Mutex
	onRelease []func(*Zone)
}

// New creates an unconfigured zone holding one reference.
func New(origin string, class uint16) (*Zone, error) {
	if _, ok := dns.IsDomainName(origin); !ok {
		return nil, fmt.Errorf("%w: invalid origin %q", ErrConfig, origin)
	}
	if _, ok := dns.ClassToString[class]; !ok {
		return nil, fmt.Errorf("%w: invalid class %d", ErrConfig, class)
	}
	z := &Zone{origin: dns.CanonicalName(origin), class: class}
	z.refs.Store(1)
	return z, nil
}

// Origin returns the canonical origin with a trailing dot.
func (z *Zone) Origin() string { return z.origin }

// Class returns the zone class.
func (z *Zone) Class() uint16 { return z.class }

func (z *Zone) String() string {
	return z.origin + "/" + dns.ClassToString[z.class]
}

// Settings returns the current settings, nil before the first Configure.
func (z *Zone) Settings() *Settings { return z.settings.Load() }

// Configure replaces the zone's settings.
func (z *Zone) Configure(s *Settings) error {
	if s == nil {
		return fmt.Errorf("%w: %s: nil settings", ErrConfig, z)
	}
	z.settings.Store(s)
	return nil
}

// Database returns the loaded data, nil when the zone has not been loaded.
func (z *Zone) Database() *Database { return z.db.Load() }

// Loaded reports whether the zone has data.
func (z *Zone) Loaded() bool { return z.db.Load() != nil }

// SetDatabase installs data directly, bypassing any Source. Used for zones
// that are built in memory and by transfers.
func (z *Zone) SetDatabase(db *Database) {
	z.db.Store(db)
	z.loadedAt.Store(time.Now().UnixNano())
}

// Load reads the zone from src unless the loaded data is already current.
// Transferred zones whose source does not exist return ErrNoData.
func (z *Zone) Load(ctx context.Context, src Source) error {
	z.loadMu.Lock()
	defer z.loadMu.Unlock()

	s := z.Settings()
	if src == nil {
		if s != nil && s.Type.Transferred() {
			return fmt.Errorf("%s: %w", z, ErrNoData)
		}
		return fmt.Errorf("%w: %s: no data source", ErrLoad, z)
	}

	mtime, err := src.ModTime(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && s != nil && s.Type.Transferred() {
			return fmt.Errorf("%s: %w", z, ErrNoData)
		}
		return fmt.Errorf("%w: %s: %w", ErrLoad, z, err)
	}
	if z.Loaded() && !mtime.IsZero() && mtime.UnixNano() <= z.loadedAt.Load() {
		return nil
	}

	rrs, err := src.Records(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoad, z, err)
	}
	db, err := NewDatabase(z.origin, z.class, rrs)
	if err != nil {
		return fmt.Errorf("%s: %w", z, err)
	}
	if s != nil && s.Type != TypeHint && db.SOA() == nil {
		return fmt.Errorf("%w: %s: no SOA record", ErrLoad, z)
	}

	z.db.Store(db)
	z.loadedAt.Store(mtime.UnixNano())
	return nil
}

// OnRelease registers fn to run when the last reference is dropped.
func (z *Zone) OnRelease(fn func(*Zone)) {
	z.mu.Lock()
	z.onRelease = append(z.onRelease, fn)
	z.mu.Unlock()
}

// Attach adds a reference and returns z.
func (z *Zone) Attach() *Zone {
	if z.refs.Add(1) <= 1 {
		panic("zone: attach to released zone " + z.String())
	}
	return z
}

// Detach drops a reference. The last Detach runs the release hooks.
func (z *Zone) Detach() {
	n := z.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("zone: detach of released zone " + z.String())
	}

	z.mu.Lock()
	hooks := z.onRelease
	z.onRelease = nil
	z.mu.Unlock()
	for _, fn := range hooks {
		fn(z)
	}
	z.db.Store(nil)
}

// Refs returns the current reference count.
func (z *Zone) Refs() int { return int(z.refs.Load()) }
