// Package acl implements address match lists used for query, recursion,
// transfer and update access control.
//
// An element is an address, a CIDR prefix, or one of the keywords "any",
// "none" and "localhost"; a leading "!" negates it. Elements are evaluated in
// order and the first match decides. A list with no matching element denies.
// A nil *ACL is unrestricted.
package acl

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrSyntax is returned for malformed match list elements.
var ErrSyntax = errors.New("invalid address match element")

type element struct {
	text     string
	negate   bool
	any      bool
	none     bool
	prefixes []netip.Prefix
}

// ACL is an immutable, ordered address match list.
type ACL struct {
	elements []element
}

var loopback = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// Parse builds an ACL from its textual elements.
func Parse(items []string) (*ACL, error) {
	a := &ACL{elements: make([]element, 0, len(items))}
	for _, raw := range items {
		e, err := parseElement(raw)
		if err != nil {
			return nil, err
		}
		a.elements = append(a.elements, e)
	}
	return a, nil
}

// MustParse is Parse that panics on error. Intended for tests and constants.
func MustParse(items ...string) *ACL {
	a, err := Parse(items)
	if err != nil {
		panic(err)
	}
	return a
}

func parseElement(raw string) (element, error) {
	s := strings.TrimSpace(raw)
	e := element{text: s}
	if strings.HasPrefix(s, "!") {
		e.negate = true
		s = strings.TrimSpace(s[1:])
	}
	switch strings.ToLower(s) {
	case "":
		return e, fmt.Errorf("%w: %q", ErrSyntax, raw)
	case "any":
		e.any = true
		return e, nil
	case "none":
		e.none = true
		return e, nil
	case "localhost":
		e.prefixes = loopback
		return e, nil
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return e, fmt.Errorf("%w: %q: %w", ErrSyntax, raw, err)
		}
		e.prefixes = []netip.Prefix{p.Masked()}
		return e, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return e, fmt.Errorf("%w: %q: %w", ErrSyntax, raw, err)
	}
	e.prefixes = []netip.Prefix{netip.PrefixFrom(addr, addr.BitLen())}
	return e, nil
}

func (e element) matches(addr netip.Addr) bool {
	switch {
	case e.any:
		return true
	case e.none:
		return false
	}
	for _, p := range e.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Allowed reports whether addr is permitted. IPv4-mapped IPv6 addresses are
// matched as IPv4.
func (a *ACL) Allowed(addr netip.Addr) bool {
	if a == nil {
		return true
	}
	addr = addr.Unmap()
	for _, e := range a.elements {
		if e.matches(addr) {
			return !e.negate
		}
	}
	return false
}

// Len returns the number of elements.
func (a *ACL) Len() int {
	if a == nil {
		return 0
	}
	return len(a.elements)
}

// String renders the list in configuration syntax. A nil ACL renders as "any".
func (a *ACL) String() string {
	if a == nil {
		return "any"
	}
	parts := make([]string, 0, len(a.elements))
	for _, e := range a.elements {
		parts = append(parts, e.text)
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}
