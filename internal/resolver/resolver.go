// Package resolver binds a view's cache, root hints and upstream servers into
// the component that answers recursive queries for that view.
//
// Answers come from the view cache first. The root NS set is answered from the
// hints. Everything else is sent to the configured forwarders, if any, with
// concurrent identical questions coalesced into one upstream exchange and the
// number of outstanding exchanges bounded by the resolver's task count.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jroosing/hydranamed/internal/cache"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoAnswer is returned when nothing is cached and no forwarders exist.
	ErrNoAnswer = errors.New("no answer available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("resolver closed")
)

// lookupTimeout bounds a shared upstream exchange. Callers stop waiting on
// their own context, the exchange itself only on this.
const lookupTimeout = 10 * time.Second

// Exchanger sends a query upstream.
type Exchanger interface {
	Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error)
}

// Answer is the outcome of a resolution.
type Answer struct {
	Rcode   int
	Records []dns.RR
	Source  string // "cache", "hints" or "upstream"
}

// Resolver is safe for concurrent use.
type Resolver struct {
	class    uint16
	cache    *cache.Cache
	tasks    int
	sem      *semaphore.Weighted
	upstream Exchanger
	group    singleflight.Group

	hints  atomic.Pointer[zone.Database]
	closed atomic.Bool
}

// New creates a resolver for class using c. tasks bounds concurrent upstream
// exchanges. upstream may be nil.
func New(class uint16, c *cache.Cache, tasks int, upstream Exchanger) (*Resolver, error) {
	if c == nil {
		return nil, errors.New("resolver: nil cache")
	}
	if c.Class() != class {
		return nil, fmt.Errorf("resolver: %s cache for %s resolver",
			dns.ClassToString[c.Class()], dns.ClassToString[class])
	}
	if tasks <= 0 {
		return nil, fmt.Errorf("resolver: task count must be positive, got %d", tasks)
	}
	return &Resolver{
		class:    class,
		cache:    c,
		tasks:    tasks,
		sem:      semaphore.NewWeighted(int64(tasks)),
		upstream: upstream,
	}, nil
}

// Class returns the resolver class.
func (r *Resolver) Class() uint16 { return r.class }

// Tasks returns the worker task bound.
func (r *Resolver) Tasks() int { return r.tasks }

// SetHints installs the root hints.
func (r *Resolver) SetHints(db *zone.Database) { r.hints.Store(db) }

// Hints returns the root hints, nil when none are installed.
func (r *Resolver) Hints() *zone.Database { return r.hints.Load() }

// Close makes further resolutions fail with ErrClosed.
func (r *Resolver) Close() { r.closed.Store(true) }

// Resolve answers name/qtype.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype uint16) (Answer, error) {
	if r.closed.Load() {
		return Answer{}, ErrClosed
	}
	name = dns.CanonicalName(name)

	if rrs, kind, ok := r.cache.Lookup(name, qtype); ok {
		return Answer{Rcode: rcodeFor(kind), Records: rrs, Source: "cache"}, nil
	}
	if hints := r.hints.Load(); hints != nil && name == "." && qtype == dns.TypeNS {
		if rrs := hints.Lookup(".", dns.TypeNS); len(rrs) > 0 {
			return Answer{Rcode: dns.RcodeSuccess, Records: rrs, Source: "hints"}, nil
		}
	}
	if r.upstream == nil {
		return Answer{}, ErrNoAnswer
	}

	key := name + "/" + strconv.Itoa(int(qtype))
	ch := r.group.DoChan(key, func() (any, error) {
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.exchange(ectx, name, qtype)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Answer{}, res.Err
		}
		return res.Val.(Answer), nil
	case <-ctx.Done():
		return Answer{}, fmt.Errorf("resolve %s: %w", name, ctx.Err())
	}
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (Answer, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Answer{}, err
	}
	defer r.sem.Release(1)

	q := new(dns.Msg)
	q.SetQuestion(name, qtype)
	q.Question[0].Qclass = r.class
	q.RecursionDesired = true

	resp, err := r.upstream.Exchange(ctx, q)
	if err != nil {
		return Answer{}, fmt.Errorf("resolve %s: %w", name, err)
	}

	switch {
	case resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0:
		r.cache.Add(resp.Answer)
	case resp.Rcode == dns.RcodeNameError:
		r.cache.AddNegative(name, qtype, negativeTTL(resp), cache.NXDomain)
	case resp.Rcode == dns.RcodeSuccess:
		r.cache.AddNegative(name, qtype, negativeTTL(resp), cache.NoData)
	case resp.Rcode == dns.RcodeServerFailure:
		r.cache.AddNegative(name, qtype, 30*time.Second, cache.ServFail)
	}
	return Answer{Rcode: resp.Rcode, Records: resp.Answer, Source: "upstream"}, nil
}

// negativeTTL follows RFC 2308: the smaller of the SOA TTL and SOA minimum.
func negativeTTL(m *dns.Msg) time.Duration {
	for _, rr := range m.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			return time.Duration(min(soa.Hdr.Ttl, soa.Minttl)) * time.Second
		}
	}
	return 0
}

func rcodeFor(kind cache.Kind) int {
	switch kind {
	case cache.NXDomain:
		return dns.RcodeNameError
	case cache.ServFail:
		return dns.RcodeServerFailure
	default:
		return dns.RcodeSuccess
	}
}
