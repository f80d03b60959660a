// Package cache implements the per-view record cache.
//
// Each view owns one Cache bound to the view's class. Entries are grouped by
// owner name and type and expire with the smallest TTL of the group. A
// background cleaner removes expired entries at the configured cleaning
// interval. The cache can be primed from a master-format snapshot file.
package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// ErrLoad marks a cache snapshot that could not be read.
var ErrLoad = errors.New("cache load error")

// DefaultMaxEntries bounds a view's cache.
const DefaultMaxEntries = 100_000

// Key identifies a cached RRset.
type Key struct {
	Name string // canonical
	Type uint16
}

type rrset struct {
	rrs []dns.RR
}

// Cache is safe for concurrent use.
type Cache struct {
	class uint16
	store *TTLCache[Key, rrset]

	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

// New creates an empty cache for class.
func New(class uint16, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{class: class, store: NewTTLCache[Key, rrset](maxEntries)}
}

// Class returns the cache class.
func (c *Cache) Class() uint16 { return c.class }

// SetCleaningInterval restarts the background cleaner with interval d.
// Zero disables it.
func (c *Cache) SetCleaningInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopCleanerLocked()
	c.interval = d
	if d <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.clean(d, c.stop, c.done)
}

// CleaningInterval returns the current cleaning interval.
func (c *Cache) CleaningInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *Cache) clean(d time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.store.RemoveExpired()
		case <-stop:
			return
		}
	}
}

func (c *Cache) stopCleanerLocked() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

// Close stops the cleaner and empties the cache.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopCleanerLocked()
	c.store.Purge()
}

// Add caches rrs grouped by owner and type. Records of another class are ignored.
func (c *Cache) Add(rrs []dns.RR) {
	groups := make(map[Key][]dns.RR)
	var order []Key
	for _, rr := range rrs {
		h := rr.Header()
		if h.Class != c.class {
			continue
		}
		k := Key{Name: dns.CanonicalName(h.Name), Type: h.Rrtype}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], dns.Copy(rr))
	}
	for _, k := range order {
		set := groups[k]
		ttl := set[0].Header().Ttl
		for _, rr := range set[1:] {
			ttl = min(ttl, rr.Header().Ttl)
		}
		c.store.Set(k, rrset{rrs: set}, time.Duration(ttl)*time.Second, Positive)
	}
}

// AddNegative caches the absence of name/qtype for ttl.
func (c *Cache) AddNegative(name string, qtype uint16, ttl time.Duration, kind Kind) {
	c.store.Set(Key{Name: dns.CanonicalName(name), Type: qtype}, rrset{}, ttl, kind)
}

// Lookup returns copies of the cached records with their remaining TTL.
// For negative entries the record slice is empty and ok is true.
func (c *Cache) Lookup(name string, qtype uint16) (rrs []dns.RR, kind Kind, ok bool) {
	set, expires, kind, ok := c.store.Get(Key{Name: dns.CanonicalName(name), Type: qtype})
	if !ok {
		return nil, kind, false
	}
	remaining := uint32(time.Until(expires) / time.Second)
	out := make([]dns.RR, 0, len(set.rrs))
	for _, rr := range set.rrs {
		cp := dns.Copy(rr)
		cp.Header().Ttl = remaining
		out = append(out, cp)
	}
	return out, kind, true
}

// Len returns the number of cached RRsets.
func (c *Cache) Len() int { return c.store.Len() }

// Stats returns the cache counters.
func (c *Cache) Stats() Stats { return c.store.Stats() }

// Load primes the cache from a master-format snapshot. Expired records (TTL 0)
// are skipped.
func (c *Cache) Load(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer f.Close()

	rrs, err := zone.ParseRecords(ctx, f, ".", path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	live := rrs[:0]
	for _, rr := range rrs {
		h := rr.Header()
		if h.Class != c.class {
			return fmt.Errorf("%w: %s: %s record %s in %s cache", ErrLoad, path,
				dns.ClassToString[h.Class], h.Name, dns.ClassToString[c.class])
		}
		if h.Ttl > 0 {
			live = append(live, rr)
		}
	}
	c.Add(live)
	return nil
}

// Dump writes the unexpired positive entries in master format.
func (c *Cache) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var werr error
	c.store.Range(func(_ Key, set rrset, expiresAt time.Time, kind Kind) bool {
		if kind != Positive {
			return true
		}
		remaining := uint32(time.Until(expiresAt) / time.Second)
		if remaining == 0 {
			return true
		}
		for _, rr := range set.rrs {
			cp := dns.Copy(rr)
			cp.Header().Ttl = remaining
			if _, werr = fmt.Fprintln(bw, cp.String()); werr != nil {
				return false
			}
		}
		return true
	})
	if werr != nil {
		return werr
	}
	return bw.Flush()
}
