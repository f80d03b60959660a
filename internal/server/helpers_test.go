package server_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jroosing/hydranamed/internal/server"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

const exampleZone = `$TTL 300
@       IN SOA ns1 admin 1 3600 900 604800 86400
@       IN NS  ns1
ns1     IN A   192.0.2.53
www     IN A   192.0.2.1
alias   IN CNAME www
sub     IN NS  ns.sub
ns.sub  IN A   192.0.2.54
`

const otherZone = `$TTL 300
@       IN SOA ns1.example.com. admin.example.com. 9 3600 900 604800 86400
@       IN NS  ns1.example.com.
www     IN A   198.51.100.1
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t    *testing.T
	dir  string
	path string
	srv  *server.Server
	run  chan error
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// newHarness writes the zone fixtures and cfg into a temporary directory and
// returns a server that has not been started. options.directory points at
// that directory.
func newHarness(t *testing.T, cfg string, opts ...func(*server.Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "example.com.zone", exampleZone)
	writeFile(t, dir, "example.org.zone", otherZone)

	h := &harness{t: t, dir: dir, run: make(chan error, 1)}
	h.path = filepath.Join(dir, "named.yaml")
	h.writeConfig("", cfg)

	o := server.Options{ConfigPath: h.path, Logger: quietLogger(), DisableListeners: true}
	for _, fn := range opts {
		fn(&o)
	}
	srv, err := server.New(o)
	require.NoError(t, err)
	h.srv = srv
	return h
}

// writeConfig writes the configuration file. options holds extra indented
// lines for the options section; body holds the other top-level sections.
func (h *harness) writeConfig(options, body string) {
	h.t.Helper()
	writeFile(h.t, h.dir, "named.yaml", "options:\n  directory: "+h.dir+"\n"+options+body)
}

// start runs the server and waits until it is running.
func startHarness(t *testing.T, cfg string, opts ...func(*server.Options)) *harness {
	t.Helper()
	h := newHarness(t, cfg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.run <- h.srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.srv.Done()
	})

	select {
	case <-h.srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	require.Equal(t, server.PhaseRunning, h.srv.Phase())
	return h
}

// rewrite replaces the configuration file keeping default options.
func (h *harness) rewrite(body string) {
	h.t.Helper()
	h.writeConfig("", body)
}

func (h *harness) reconfigure() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Reconfigure(ctx)
}

// zone returns a production zone. The returned pointer is not attached.
func (h *harness) zone(viewName string, class uint16, origin string) *zone.Zone {
	h.t.Helper()
	l := h.srv.State().Views()
	defer l.Release()
	v, err := l.Find(viewName, class)
	require.NoError(h.t, err)
	z, err := v.FindZone(origin)
	require.NoError(h.t, err)
	return z
}

func (h *harness) viewNames() []string {
	l := h.srv.State().Views()
	defer l.Release()
	var names []string
	for _, v := range l.Views() {
		names = append(names, v.String())
	}
	return names
}

func (h *harness) query(src, name string, qtype, qclass uint16, rd bool) *dns.Msg {
	h.t.Helper()
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	req.Question[0].Qclass = qclass
	req.RecursionDesired = rd
	resp, _ := h.srv.Handler().Answer(context.Background(), mustAddr(h.t, src), req)
	return resp
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func frozenViews(l *view.List) bool {
	for _, v := range l.Views() {
		if !v.Frozen() {
			return false
		}
	}
	return true
}
