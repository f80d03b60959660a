package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/miekg/dns"
)

// DefaultTimeout bounds a single upstream exchange.
const DefaultTimeout = 3 * time.Second

// Forwarder sends queries to a fixed list of upstream servers in order,
// falling back to TCP when a UDP answer is truncated.
type Forwarder struct {
	servers []string
	udp     *dns.Client
	tcp     *dns.Client
}

// NewForwarder parses servers ("ip" or "ip:port").
func NewForwarder(servers []string, timeout time.Duration) (*Forwarder, error) {
	if len(servers) == 0 {
		return nil, errors.New("forwarder: no servers")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Forwarder{
		udp: &dns.Client{Net: "udp", Timeout: timeout, UDPSize: dns.DefaultMsgSize},
		tcp: &dns.Client{Net: "tcp", Timeout: timeout},
	}
	for _, s := range servers {
		addr, err := parseServer(s)
		if err != nil {
			return nil, fmt.Errorf("forwarder %q: %w", s, err)
		}
		f.servers = append(f.servers, addr)
	}
	return f, nil
}

// Servers returns the upstream addresses.
func (f *Forwarder) Servers() []string { return f.servers }

// Exchange implements Exchanger.
func (f *Forwarder) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var errs []error
	for _, server := range f.servers {
		resp, _, err := f.udp.ExchangeContext(ctx, m, server)
		if err == nil && resp.Truncated {
			resp, _, err = f.tcp.ExchangeContext(ctx, m, server)
		}
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", server, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func parseServer(s string) (string, error) {
	if a, err := netip.ParseAddr(s); err == nil {
		return net.JoinHostPort(a.String(), "53"), nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ap.Addr().String(), strconv.Itoa(int(ap.Port()))), nil
}
