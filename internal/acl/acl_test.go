package acl_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/jroosing/hydranamed/internal/acl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilACLIsUnrestricted(t *testing.T) {
	var a *acl.ACL
	assert.True(t, a.Allowed(netip.MustParseAddr("203.0.113.7")))
	assert.Equal(t, "any", a.String())
	assert.Equal(t, 0, a.Len())
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		addr  string
		want  bool
	}{
		{"any", []string{"any"}, "198.51.100.1", true},
		{"none", []string{"none"}, "198.51.100.1", false},
		{"empty list denies", []string{}, "198.51.100.1", false},
		{"exact address", []string{"192.0.2.1"}, "192.0.2.1", true},
		{"exact address miss", []string{"192.0.2.1"}, "192.0.2.2", false},
		{"prefix", []string{"10.0.0.0/8"}, "10.20.30.40", true},
		{"unmasked prefix", []string{"10.1.2.3/8"}, "10.9.9.9", true},
		{"negation first match wins", []string{"!10.1.0.0/16", "10.0.0.0/8"}, "10.1.5.5", false},
		{"negation falls through", []string{"!10.1.0.0/16", "10.0.0.0/8"}, "10.2.5.5", true},
		{"localhost v4", []string{"localhost"}, "127.0.0.1", true},
		{"localhost v6", []string{"localhost"}, "::1", true},
		{"localhost miss", []string{"localhost"}, "192.0.2.1", false},
		{"mapped v4", []string{"192.0.2.0/24"}, "::ffff:192.0.2.9", true},
		{"negated any", []string{"!any", "any"}, "192.0.2.9", false},
		{"ipv6 prefix", []string{"2001:db8::/32"}, "2001:db8::53", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := acl.Parse(tt.items)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Allowed(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, item := range []string{"", "!", "10.0.0.0/99", "not-an-address", "300.1.1.1"} {
		t.Run(item, func(t *testing.T) {
			_, err := acl.Parse([]string{item})
			assert.True(t, errors.Is(err, acl.ErrSyntax), "got %v", err)
		})
	}
}

func TestString(t *testing.T) {
	a := acl.MustParse("10.0.0.0/8", "!any")
	assert.Equal(t, "{ 10.0.0.0/8; !any }", a.String())
	assert.Equal(t, 2, a.Len())
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { acl.MustParse("bogus") })
}
