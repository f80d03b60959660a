package zone

import (
	"fmt"

	"github.com/miekg/dns"
)

// Database is an immutable, indexed set of records for one zone.
// A reload builds a new Database and swaps it in.
type Database struct {
	origin  string
	class   uint16
	records []dns.RR

	// Indexes for fast lookup
	nameIndex map[string][]int // lowercase owner -> indices into records
	soa       *dns.SOA
}

// NewDatabase indexes rrs. Every record must be at or below origin and of the
// given class.
func NewDatabase(origin string, class uint16, rrs []dns.RR) (*Database, error) {
	origin = dns.CanonicalName(origin)
	db := &Database{
		origin:    origin,
		class:     class,
		records:   make([]dns.RR, 0, len(rrs)),
		nameIndex: make(map[string][]int, len(rrs)),
	}
	for _, rr := range rrs {
		h := rr.Header()
		if h.Class != class {
			return nil, fmt.Errorf("%w: %s: class %s in %s zone", ErrLoad, h.Name,
				dns.ClassToString[h.Class], dns.ClassToString[class])
		}
		name := dns.CanonicalName(h.Name)
		if !dns.IsSubDomain(origin, name) {
			return nil, fmt.Errorf("%w: %s is out of zone %s", ErrLoad, h.Name, origin)
		}
		if soa, ok := rr.(*dns.SOA); ok {
			if name != origin {
				return nil, fmt.Errorf("%w: SOA %s is not at the apex", ErrLoad, h.Name)
			}
			if db.soa != nil {
				return nil, fmt.Errorf("%w: multiple SOA records in %s", ErrLoad, origin)
			}
			db.soa = soa
		}
		db.nameIndex[name] = append(db.nameIndex[name], len(db.records))
		db.records = append(db.records, rr)
	}
	return db, nil
}

// Origin returns the canonical zone origin.
func (db *Database) Origin() string { return db.origin }

// Len returns the number of records.
func (db *Database) Len() int { return len(db.records) }

// Records returns a copy of the record slice.
func (db *Database) Records() []dns.RR {
	out := make([]dns.RR, len(db.records))
	copy(out, db.records)
	return out
}

// Contains reports whether qname is at or below the zone origin.
func (db *Database) Contains(qname string) bool {
	return dns.IsSubDomain(db.origin, dns.CanonicalName(qname))
}

// NameExists reports whether any record is owned by qname.
func (db *Database) NameExists(qname string) bool {
	return len(db.nameIndex[dns.CanonicalName(qname)]) > 0
}

// Lookup returns the records owned by qname with type qtype.
// dns.TypeANY matches every type.
func (db *Database) Lookup(qname string, qtype uint16) []dns.RR {
	indices := db.nameIndex[dns.CanonicalName(qname)]
	if len(indices) == 0 {
		return nil
	}
	out := make([]dns.RR, 0, len(indices))
	for _, idx := range indices {
		rr := db.records[idx]
		if qtype == dns.TypeANY || rr.Header().Rrtype == qtype {
			out = append(out, rr)
		}
	}
	return out
}

// SOA returns the apex SOA record, or nil.
func (db *Database) SOA() *dns.SOA { return db.soa }

// Serial returns the SOA serial, zero without an SOA.
func (db *Database) Serial() uint32 {
	if db.soa == nil {
		return 0
	}
	return db.soa.Serial
}

// Delegation returns the NS records of the topmost zone cut between the apex
// (exclusive) and qname, or nil when qname is served by this zone.
func (db *Database) Delegation(qname string) []dns.RR {
	name := dns.CanonicalName(qname)
	if !dns.IsSubDomain(db.origin, name) {
		return nil
	}
	var cut []dns.RR
	for name != db.origin {
		if ns := db.Lookup(name, dns.TypeNS); len(ns) > 0 {
			cut = ns
		}
		off, end := dns.NextLabel(name, 0)
		if end {
			break
		}
		name = name[off:]
	}
	return cut
}
