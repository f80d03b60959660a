package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/jroosing/hydranamed/internal/store"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZone = `$TTL 300
@    IN SOA ns1.example.com. admin.example.com. 7 3600 900 604800 86400
@    IN NS  ns1.example.com.
www  IN A   192.0.2.80
ns1  IN A   192.0.2.53
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestImportZone(t *testing.T) {
	zf := writeTemp(t, "example.com.zone", testZone)
	db := filepath.Join(t.TempDir(), "zones.db")

	out, err := execute(t, "import-zone", "example.com", zf, db)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 4 records into example.com.")

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	rrs, err := s.Records(context.Background(), "example.com", dns.ClassINET)
	require.NoError(t, err)
	assert.Len(t, rrs, 4)
}

func TestImportZoneErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "zones.db")

	_, err := execute(t, "import-zone", "example.com", "/nonexistent.zone", db)
	assert.Error(t, err)

	bad := writeTemp(t, "bad.zone", "www IN A not-an-address\n")
	_, err = execute(t, "import-zone", "example.com", bad, db)
	assert.Error(t, err)

	_, err = execute(t, "import-zone", "example.com")
	assert.Error(t, err, "missing arguments")
}

func TestPrintZoneSortsRecords(t *testing.T) {
	zf := writeTemp(t, "example.com.zone", testZone)
	out, err := execute(t, "print-zone", "example.com", zf)
	require.NoError(t, err)

	assert.Contains(t, out, "; origin example.com., 4 records")
	soa := bytes.Index([]byte(out), []byte("\tSOA\t"))
	ns1 := bytes.Index([]byte(out), []byte("ns1.example.com.\t300\tIN\tA"))
	www := bytes.Index([]byte(out), []byte("www.example.com.\t300\tIN\tA"))
	require.True(t, soa >= 0 && ns1 >= 0 && www >= 0, out)
	assert.Less(t, soa, ns1)
	assert.Less(t, ns1, www)
}

func TestCheckconf(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.zone"), []byte(testZone), 0o644))

	good := writeTemp(t, "good.yaml", "options:\n  directory: "+dir+`
zones:
  - name: example.com
    file: example.com.zone
`)
	out, err := execute(t, "checkconf", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, good+": OK")

	bad := writeTemp(t, "bad.yaml", `
zones:
  - name: example.com
    type: slave
`)
	_, err = execute(t, "checkconf", "--config", bad)
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(r)
		resp.Authoritative = true
		if r.Question[0].Qclass == dns.ClassCHAOS {
			resp.Answer = append(resp.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS},
				Txt: []string{"test-version"},
			})
		}
		_ = w.WriteMsg(resp)
	})}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	out, err := execute(t, "query", "--server", pc.LocalAddr().String(), "--class", "CH", "version.bind", "TXT")
	require.NoError(t, err)
	assert.Contains(t, out, "rcode=NOERROR aa=true answers=1")
	assert.Contains(t, out, `"test-version"`)

	_, err = execute(t, "query", "--server", pc.LocalAddr().String(), "version.bind", "BOGUS")
	assert.Error(t, err)
}
