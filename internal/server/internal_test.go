package server

import (
	"strings"
	"testing"

	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/jroosing/hydranamed/internal/zonemgr"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestConfigureOptionsDefaults(t *testing.T) {
	s, limits, err := configureOptions(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, Limits{TransfersOut: 10, TCPClients: 100, RecursiveClients: 100}, limits)
	assert.True(t, s.Recursion)
	assert.False(t, s.AuthNXDomain)
	assert.Equal(t, "one-answer", s.TransferFormat)
	assert.Nil(t, s.QueryACL)
	assert.Nil(t, s.RecursionACL)
	assert.Nil(t, s.TransferACL)
}

func TestConfigureOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    config.OptionsConfig
		check   func(t *testing.T, s *Settings, l Limits)
		wantErr bool
	}{
		{
			name: "quotas",
			opts: config.OptionsConfig{TransfersOut: intPtr(1), TCPClients: intPtr(2), RecursiveClients: intPtr(0)},
			check: func(t *testing.T, _ *Settings, l Limits) {
				assert.Equal(t, Limits{TransfersOut: 1, TCPClients: 2, RecursiveClients: 0}, l)
			},
		},
		{
			name: "acls",
			opts: config.OptionsConfig{AllowQuery: []string{"any"}, AllowTransfer: []string{"none"}, AllowRecursion: []string{}},
			check: func(t *testing.T, s *Settings, _ Limits) {
				require.NotNil(t, s.QueryACL)
				require.NotNil(t, s.TransferACL)
				require.NotNil(t, s.RecursionACL, "an empty list is present, not absent")
				assert.Equal(t, 0, s.RecursionACL.Len())
			},
		},
		{
			name: "transfer format",
			opts: config.OptionsConfig{TransferFormat: "Many-Answers"},
			check: func(t *testing.T, s *Settings, _ Limits) {
				assert.Equal(t, "many-answers", s.TransferFormat)
			},
		},
		{name: "negative quota", opts: config.OptionsConfig{TCPClients: intPtr(-1)}, wantErr: true},
		{name: "bad acl", opts: config.OptionsConfig{AllowTransfer: []string{"10.0.0.0/99"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, l, err := configureOptions(&config.Config{Options: tt.opts})
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrParse)
				return
			}
			require.NoError(t, err)
			tt.check(t, s, l)
		})
	}
}

func TestBuildVersionView(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "9.18.1", "9.18.1"},
		{"empty", "", ""},
		{"truncated", strings.Repeat("a", 300), strings.Repeat("a", 255)},
		{"escaped", `say "hi"`, `say \"hi\"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := buildVersionView(tt.text)
			require.NoError(t, err)
			defer v.Detach()

			assert.Equal(t, "_version", v.Name())
			assert.Equal(t, uint16(dns.ClassCHAOS), v.Class())
			assert.Equal(t, view.Frozen, v.State())

			z, err := v.FindZone("version.bind")
			require.NoError(t, err)
			rrs := z.Database().Records()
			require.Len(t, rrs, 1, "exactly one record")
			txt := rrs[0].(*dns.TXT)
			assert.Equal(t, []string{tt.want}, txt.Txt)

			// The TXT string survives the wire within the 255 byte limit.
			_, err = dns.NewRR(txt.String())
			assert.NoError(t, err)
		})
	}
}

func TestParseClass(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"IN", dns.ClassINET, false},
		{"in", dns.ClassINET, false},
		{"CH", dns.ClassCHAOS, false},
		{"chaos", dns.ClassCHAOS, false},
		{"HS", dns.ClassHESIOD, false},
		{"hesiod", dns.ClassHESIOD, false},
		{"ANY", 0, true},
		{"XX", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseClass(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseListen(t *testing.T) {
	specs, err := parseListen([]config.ListenConfig{{Port: 53}, {Address: "::ffff:192.0.2.1", Port: 5353}})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.False(t, specs[0].addr.IsValid(), "empty address is the wildcard")
	assert.Equal(t, "192.0.2.1", specs[1].addr.String())
	assert.Equal(t, uint16(5353), specs[1].port)

	_, err = parseListen([]config.ListenConfig{{Address: "localhost"}})
	assert.ErrorIs(t, err, config.ErrParse)
}

func TestUDPLimit(t *testing.T) {
	m := new(dns.Msg)
	assert.Equal(t, dns.MinMsgSize, udpLimit(m))
	m.SetEdns0(100, false)
	assert.Equal(t, dns.MinMsgSize, udpLimit(m))

	m = new(dns.Msg)
	m.SetEdns0(1232, false)
	assert.Equal(t, 1232, udpLimit(m))

	m = new(dns.Msg)
	m.SetEdns0(65000, false)
	assert.Equal(t, maxUDPSize, udpLimit(m))
}

func TestStatePublishSwapsAtomically(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)
	first := s.Views()
	assert.Equal(t, 0, first.Len())

	next := view.NewList()
	settings := &Settings{Recursion: false}
	old := s.Publish(next, settings)
	assert.Same(t, first, old)
	old.Release()
	first.Release()

	cur, st := s.Snapshot()
	defer cur.Release()
	assert.Same(t, next, cur)
	assert.Same(t, settings, st)
	assert.Equal(t, 2, next.Refs(), "production plus this reader")

	s.ApplyLimits(Limits{TransfersOut: 1, TCPClients: 2, RecursiveClients: 3})
	assert.Equal(t, 1, s.XfroutQuota.Max())
	assert.Equal(t, 2, s.TCPQuota.Max())
	assert.Equal(t, 3, s.RecursionQuota.Max())

	require.NotNil(t, s.Hints())
	assert.Len(t, s.Hints().Lookup(".", dns.TypeNS), 13)
}

func TestClientManagerDrain(t *testing.T) {
	m := NewClientManager()
	require.True(t, m.Begin("udp"))
	require.True(t, m.Begin("tcp"))
	m.End(dns.RcodeNameError)

	done := make(chan error, 1)
	go func() { done <- m.Destroy(t.Context()) }()
	m.End(dns.RcodeSuccess)
	require.NoError(t, <-done)
	assert.False(t, m.Begin("udp"), "destroyed manager admits nothing")

	st := m.Stats()
	assert.Equal(t, uint64(2), st.QueriesTotal)
	assert.Equal(t, uint64(1), st.QueriesUDP)
	assert.Equal(t, uint64(1), st.ResponsesNX)
	assert.Equal(t, int64(0), st.InFlight)
}

func TestReconcileFailedAddKeepsNothingPending(t *testing.T) {
	state, err := NewState()
	require.NoError(t, err)
	defer state.Detach()
	zm := zonemgr.New(zonemgr.Config{})
	defer zm.Shutdown()

	zc := &config.ZoneConfig{Name: "example.com", Type: "master", File: "example.zone"}
	settings, err := zone.NewSettings(zc, "")
	require.NoError(t, err)
	z, err := zone.New("example.com", dns.ClassINET)
	require.NoError(t, err)
	require.NoError(t, z.Configure(settings))

	pv := view.New(config.DefaultViewName, dns.ClassINET)
	require.NoError(t, pv.AddZone(z))
	prod := view.NewList()
	require.NoError(t, prod.Append(pv))
	state.Publish(prod, nil).Release()

	st := newStage()
	defer st.release()
	sv, err := st.view(config.DefaultViewName, dns.ClassINET)
	require.NoError(t, err)
	require.NoError(t, sv.Freeze())

	r := NewZoneReconciler(state, zm, nil)
	err = r.Reconcile(st, &config.Config{}, config.ZoneStatement{Zone: zc})
	require.ErrorIs(t, err, view.ErrFrozen)
	assert.Empty(t, st.pending)
	assert.Equal(t, 1, z.Refs(), "only production references the zone")
}
