package server_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheSnapshot = `cached.example.net. 3600 IN A 203.0.113.7
`

func TestAuthoritativeAnswers(t *testing.T) {
	h := startHarness(t, baseConfig)

	tests := []struct {
		name      string
		qname     string
		qtype     uint16
		rcode     int
		aa        bool
		answers   int
		authority uint16
	}{
		{"positive", "www.example.com", dns.TypeA, dns.RcodeSuccess, true, 1, 0},
		{"case insensitive", "WWW.Example.COM", dns.TypeA, dns.RcodeSuccess, true, 1, 0},
		{"cname", "alias.example.com", dns.TypeA, dns.RcodeSuccess, true, 1, 0},
		{"nodata", "www.example.com", dns.TypeMX, dns.RcodeSuccess, true, 0, dns.TypeSOA},
		{"nxdomain", "nope.example.com", dns.TypeA, dns.RcodeNameError, true, 0, dns.TypeSOA},
		{"referral", "host.sub.example.com", dns.TypeA, dns.RcodeSuccess, false, 0, dns.TypeNS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.query("192.0.2.99", tt.qname, tt.qtype, dns.ClassINET, false)
			assert.Equal(t, tt.rcode, resp.Rcode)
			assert.Equal(t, tt.aa, resp.Authoritative)
			assert.Len(t, resp.Answer, tt.answers)
			if tt.authority != 0 {
				require.NotEmpty(t, resp.Ns)
				assert.Equal(t, tt.authority, resp.Ns[0].Header().Rrtype)
			}
		})
	}

	t.Run("referral carries glue", func(t *testing.T) {
		resp := h.query("192.0.2.99", "host.sub.example.com", dns.TypeA, dns.ClassINET, false)
		require.Len(t, resp.Extra, 1)
		assert.Equal(t, "ns.sub.example.com.", resp.Extra[0].Header().Name)
	})
}

func TestRefusals(t *testing.T) {
	h := startHarness(t, "")
	h.writeConfig("  allow_query: [\"192.0.2.0/24\"]\n  recursion: false\n",
		baseConfig+"    allow_query: [\"192.0.2.1\"]\n")
	require.NoError(t, h.reconfigure())

	tests := []struct {
		name  string
		src   string
		qname string
		class uint16
		rcode int
	}{
		{"no view for class", "192.0.2.1", "www.example.com", dns.ClassHESIOD, dns.RcodeRefused},
		{"server acl", "198.51.100.1", "www.example.com", dns.ClassINET, dns.RcodeRefused},
		{"zone acl", "192.0.2.2", "www.example.com", dns.ClassINET, dns.RcodeRefused},
		{"zone acl allows", "192.0.2.1", "www.example.com", dns.ClassINET, dns.RcodeSuccess},
		{"recursion disabled", "192.0.2.1", "www.example.net", dns.ClassINET, dns.RcodeRefused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.query(tt.src, tt.qname, dns.TypeA, tt.class, true)
			assert.Equal(t, tt.rcode, resp.Rcode)
		})
	}
}

func TestRecursionFromCacheSnapshot(t *testing.T) {
	h := startHarness(t, "")
	writeFile(t, h.dir, "cache.db", cacheSnapshot)
	h.writeConfig("  cache_file: cache.db\n  allow_recursion: [\"127.0.0.1\"]\n", "")
	require.NoError(t, h.reconfigure())

	resp := h.query("127.0.0.1", "cached.example.net", dns.TypeA, dns.ClassINET, true)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.True(t, resp.RecursionAvailable)
	assert.Equal(t, "203.0.113.7", resp.Answer[0].(*dns.A).A.String())

	resp = h.query("127.0.0.1", "uncached.example.net", dns.TypeA, dns.ClassINET, true)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode, "no forwarders and nothing cached")

	resp = h.query("192.0.2.1", "cached.example.net", dns.TypeA, dns.ClassINET, true)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode, "recursion acl")

	resp = h.query("127.0.0.1", ".", dns.TypeNS, dns.ClassINET, true)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Len(t, resp.Answer, 13, "root hints")
}

func TestRecursionQuotaExhausted(t *testing.T) {
	h := startHarness(t, "")
	writeFile(t, h.dir, "cache.db", cacheSnapshot)
	h.writeConfig("  cache_file: cache.db\n  recursive_clients: 1\n", "")
	require.NoError(t, h.reconfigure())

	q := h.srv.State().RecursionQuota
	require.True(t, q.TryAcquire())
	resp := h.query("127.0.0.1", "cached.example.net", dns.TypeA, dns.ClassINET, true)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)

	q.Release()
	resp = h.query("127.0.0.1", "cached.example.net", dns.TypeA, dns.ClassINET, true)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Equal(t, 0, q.InUse())
}

func TestHandleWireFormat(t *testing.T) {
	h := startHarness(t, baseConfig)
	src := netip.MustParseAddrPort("127.0.0.1:5353")

	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	req.SetEdns0(1232, false)
	b, err := req.Pack()
	require.NoError(t, err)

	res := h.srv.Handler().Handle(context.Background(), "udp", src, b)
	require.NotEmpty(t, res.ResponseBytes)
	assert.Equal(t, "authoritative", res.Source)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(res.ResponseBytes))
	assert.Equal(t, req.Id, resp.Id)
	assert.Len(t, resp.Answer, 1)
	assert.NotNil(t, resp.IsEdns0())

	garbage := []byte{0xAB, 0xCD, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}
	res = h.srv.Handler().Handle(context.Background(), "udp", src, garbage)
	require.NoError(t, resp.Unpack(res.ResponseBytes))
	assert.Equal(t, uint16(0xABCD), resp.Id)
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)

	assert.Empty(t, h.srv.Handler().Handle(context.Background(), "udp", src, []byte{1, 2}).ResponseBytes)
}

func TestNotImplementedOpcode(t *testing.T) {
	h := startHarness(t, "")
	req := new(dns.Msg)
	req.SetNotify("example.com.")
	resp, _ := h.srv.Handler().Answer(context.Background(), netip.MustParseAddr("127.0.0.1"), req)
	assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}
