package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/jroosing/hydranamed/internal/config"
	psnet "github.com/shirou/gopsutil/v3/net"
)

const listenerStopTimeout = 5 * time.Second

// listenSpec is a validated listen-on element. An invalid addr means every
// local address.
type listenSpec struct {
	addr netip.Addr
	port uint16
}

// parseListen validates the listen-on list before anything is applied.
func parseListen(list []config.ListenConfig) ([]listenSpec, error) {
	out := make([]listenSpec, 0, len(list))
	for _, l := range list {
		spec := listenSpec{port: uint16(l.Port)}
		if l.Address != "" && l.Address != "*" && l.Address != "any" {
			a, err := netip.ParseAddr(l.Address)
			if err != nil {
				return nil, fmt.Errorf("%w: listen_on %q: %w", config.ErrParse, l.Address, err)
			}
			spec.addr = a.Unmap()
		}
		out = append(out, spec)
	}
	return out, nil
}

// AddressLister enumerates the local addresses used for wildcard listen-on
// elements.
type AddressLister func(ctx context.Context) ([]netip.Addr, error)

// LocalAddresses lists the addresses of every interface that is up.
func LocalAddresses(ctx context.Context) ([]netip.Addr, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []netip.Addr
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			p, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := p.Addr().Unmap()
			if addr.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

type listener struct {
	udp   *UDPServer
	tcp   *TCPServer
	udpLn *net.UDPConn
	tcpLn net.Listener
}

// InterfaceConfig configures an InterfaceManager.
type InterfaceConfig struct {
	Logger  *slog.Logger
	Handler *QueryHandler
	State   *State
	// Disabled records the desired addresses without opening sockets.
	Disabled bool
	// Addresses defaults to LocalAddresses.
	Addresses      AddressLister
	MaxConcurrency int
}

// InterfaceManager keeps one UDP and one TCP listener per listen-on address.
type InterfaceManager struct {
	cfg InterfaceConfig

	mu        sync.Mutex
	listeners map[netip.AddrPort]*listener
	shutdown  bool
}

// NewInterfaceManager returns a manager with no listeners.
func NewInterfaceManager(cfg InterfaceConfig) *InterfaceManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addresses == nil {
		cfg.Addresses = LocalAddresses
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1024
	}
	return &InterfaceManager{cfg: cfg, listeners: make(map[netip.AddrPort]*listener)}
}

// Rescan opens listeners for addresses newly in specs and closes those no
// longer in it. Addresses that cannot be bound are reported and skipped.
func (m *InterfaceManager) Rescan(ctx context.Context, specs []listenSpec) error {
	want, err := m.expand(ctx, specs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return ErrInvalidPhase
	}

	for ap, l := range m.listeners {
		if _, ok := want[ap]; !ok {
			m.stop(ap, l)
			delete(m.listeners, ap)
		}
	}

	var errs []error
	for ap := range want {
		if _, ok := m.listeners[ap]; ok {
			continue
		}
		l, err := m.start(ctx, ap)
		if err != nil {
			m.cfg.Logger.Error("could not listen", "address", ap.String(), "err", err)
			errs = append(errs, fmt.Errorf("%w: listen %s: %w", ErrResource, ap, err))
			continue
		}
		m.listeners[ap] = l
		m.cfg.Logger.Info("listening", "address", ap.String())
	}
	return errors.Join(errs...)
}

func (m *InterfaceManager) expand(ctx context.Context, specs []listenSpec) (map[netip.AddrPort]struct{}, error) {
	want := make(map[netip.AddrPort]struct{})
	var local []netip.Addr
	for _, s := range specs {
		if s.addr.IsValid() {
			want[netip.AddrPortFrom(s.addr, s.port)] = struct{}{}
			continue
		}
		if local == nil {
			var err error
			if local, err = m.cfg.Addresses(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrResource, err)
			}
		}
		for _, a := range local {
			want[netip.AddrPortFrom(a, s.port)] = struct{}{}
		}
	}
	return want, nil
}

func (m *InterfaceManager) start(ctx context.Context, ap netip.AddrPort) (*listener, error) {
	l := &listener{}
	if m.cfg.Disabled {
		return l, nil
	}

	udpLn, err := listenUDP(ctx, ap)
	if err != nil {
		return nil, err
	}
	tcpLn, err := listenTCP(ctx, ap)
	if err != nil {
		udpLn.Close()
		return nil, err
	}

	l.udpLn, l.tcpLn = udpLn, tcpLn
	l.udp = &UDPServer{Logger: m.cfg.Logger, Handler: m.cfg.Handler, MaxConcurrency: m.cfg.MaxConcurrency}
	l.tcp = &TCPServer{Logger: m.cfg.Logger, Handler: m.cfg.Handler}
	if m.cfg.State != nil {
		l.tcp.Quota = m.cfg.State.TCPQuota
	}

	// Listeners outlive the reconfiguration that opened them.
	serveCtx := context.WithoutCancel(ctx)
	go l.udp.RunOnConn(serveCtx, udpLn)
	go l.tcp.Serve(serveCtx, tcpLn)
	return l, nil
}

func (m *InterfaceManager) stop(ap netip.AddrPort, l *listener) {
	if l.udpLn == nil {
		return
	}
	_ = l.udpLn.Close()
	_ = l.tcpLn.Close()
	if err := l.udp.Stop(listenerStopTimeout); err != nil {
		m.cfg.Logger.Warn("udp listener stop", "address", ap.String(), "err", err)
	}
	if err := l.tcp.Stop(listenerStopTimeout); err != nil {
		m.cfg.Logger.Warn("tcp listener stop", "address", ap.String(), "err", err)
	}
	m.cfg.Logger.Info("no longer listening", "address", ap.String())
}

// Addresses returns the addresses currently listened on, sorted.
func (m *InterfaceManager) Addresses() []netip.AddrPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.SortedFunc(maps.Keys(m.listeners), func(a, b netip.AddrPort) int { return a.Compare(b) })
}

// Shutdown closes every listener. Further rescans fail.
func (m *InterfaceManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	for ap, l := range m.listeners {
		m.stop(ap, l)
		delete(m.listeners, ap)
	}
}
