package zone_test

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := map[string]zone.Type{
		"":          zone.TypeMaster,
		"master":    zone.TypeMaster,
		"Primary":   zone.TypeMaster,
		"slave":     zone.TypeSlave,
		"secondary": zone.TypeSlave,
		"stub":      zone.TypeStub,
		"hint":      zone.TypeHint,
	}
	for in, want := range tests {
		got, err := zone.ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := zone.ParseType("forward")
	assert.ErrorIs(t, err, zone.ErrConfig)
}

func TestNewSettings(t *testing.T) {
	dir := t.TempDir()
	notify := false
	s, err := zone.NewSettings(&config.ZoneConfig{
		Name:           "example.com",
		Type:           "slave",
		File:           "bak/example.com",
		Masters:        []string{"192.0.2.1", "[2001:db8::1]:5353", "192.0.2.2:54"},
		AllowQuery:     []string{"10.0.0.0/8"},
		AllowTransfer:  []string{"none"},
		TransferSource: "192.0.2.10",
		Notify:         &notify,
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, zone.TypeSlave, s.Type)
	assert.Equal(t, filepath.Join(dir, "bak/example.com"), s.File)
	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:53"),
		netip.MustParseAddrPort("[2001:db8::1]:5353"),
		netip.MustParseAddrPort("192.0.2.2:54"),
	}, s.Masters)
	assert.True(t, s.AllowQuery.Allowed(netip.MustParseAddr("10.1.1.1")))
	assert.False(t, s.AllowTransfer.Allowed(netip.MustParseAddr("10.1.1.1")))
	assert.Nil(t, s.AllowUpdate)
	assert.Equal(t, netip.MustParseAddr("192.0.2.10"), s.TransferSource)
	assert.False(t, s.Notify)
}

func TestNewSettingsDatabase(t *testing.T) {
	s, err := zone.NewSettings(&config.ZoneConfig{Name: "example.com", Database: "sqlite:zones.db"}, "/var/named")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:/var/named/zones.db", s.Database)
	assert.Equal(t, "/var/named/zones.db", s.SQLitePath())
	assert.True(t, s.Notify, "masters notify by default")
}

func TestNewSettingsRejects(t *testing.T) {
	tests := []struct {
		name string
		zc   config.ZoneConfig
	}{
		{"master without data", config.ZoneConfig{Name: "a."}},
		{"slave without masters", config.ZoneConfig{Name: "a.", Type: "slave"}},
		{"hint without file", config.ZoneConfig{Name: ".", Type: "hint"}},
		{"unknown type", config.ZoneConfig{Name: "a.", Type: "forward", File: "a"}},
		{"bad master", config.ZoneConfig{Name: "a.", Type: "stub", Masters: []string{"ns.example."}}},
		{"bad acl", config.ZoneConfig{Name: "a.", File: "a", AllowQuery: []string{"10.0.0.0/40"}}},
		{"bad database", config.ZoneConfig{Name: "a.", Database: "rbt"}},
		{"bad transfer source", config.ZoneConfig{Name: "a.", File: "a", TransferSource: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := zone.NewSettings(&tt.zc, "")
			assert.ErrorIs(t, err, zone.ErrConfig)
		})
	}
}

func TestReusable(t *testing.T) {
	base := config.ZoneConfig{Name: "example.com", File: "example.zone", AllowQuery: []string{"any"}}
	mk := func(mut func(*config.ZoneConfig)) *zone.Settings {
		zc := base
		if mut != nil {
			mut(&zc)
		}
		s, err := zone.NewSettings(&zc, "/etc/named")
		require.NoError(t, err)
		return s
	}

	z, err := zone.New("example.com", dns.ClassINET)
	require.NoError(t, err)
	assert.False(t, zone.Reusable(z, dns.ClassINET, mk(nil)), "unconfigured zone")

	require.NoError(t, z.Configure(mk(nil)))

	assert.True(t, zone.Reusable(z, dns.ClassINET, mk(nil)))
	assert.True(t, zone.Reusable(z, dns.ClassINET, mk(func(zc *config.ZoneConfig) {
		zc.AllowQuery = []string{"10.0.0.0/8"}
	})), "ACL changes are applied in place")

	assert.False(t, zone.Reusable(z, dns.ClassCHAOS, mk(nil)), "class changed")
	assert.False(t, zone.Reusable(z, dns.ClassINET, mk(func(zc *config.ZoneConfig) {
		zc.File = "other.zone"
	})), "file changed")
	assert.False(t, zone.Reusable(z, dns.ClassINET, mk(func(zc *config.ZoneConfig) {
		zc.Type = "slave"
		zc.Masters = []string{"192.0.2.1"}
	})), "type changed")
	assert.False(t, zone.Reusable(z, dns.ClassINET, nil))
}
