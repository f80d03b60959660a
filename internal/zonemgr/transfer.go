package zonemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// DefaultTransferTimeout bounds one SOA check or zone transfer.
const DefaultTransferTimeout = 30 * time.Second

// Transfer is a Refresher that pulls zones from their masters with AXFR.
// Masters are tried in order; the first one that answers wins. A transfer is
// skipped when the master's SOA serial is not newer than the loaded one.
type Transfer struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewTransfer returns a Transfer with the default timeout.
func NewTransfer(logger *slog.Logger) *Transfer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{Timeout: DefaultTransferTimeout, Logger: logger}
}

// Refresh implements Refresher.
func (t *Transfer) Refresh(ctx context.Context, z *zone.Zone) error {
	s := z.Settings()
	if s == nil || len(s.Masters) == 0 {
		return fmt.Errorf("zone %s: no masters", z)
	}
	var errs []error
	for _, m := range s.Masters {
		err := t.refreshFrom(ctx, z, m, s.TransferSource)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, fmt.Errorf("master %s: %w", m, err))
	}
	return fmt.Errorf("zone %s: %w", z, errors.Join(errs...))
}

func (t *Transfer) refreshFrom(ctx context.Context, z *zone.Zone, master netip.AddrPort, source netip.Addr) error {
	if cur := z.Database(); cur != nil && cur.SOA() != nil {
		serial, err := t.remoteSerial(ctx, z, master, source)
		if err != nil {
			return err
		}
		if !serialNewer(serial, cur.Serial()) {
			t.Logger.Debug("zone is up to date", "zone", z.String(), "master", master.String(), "serial", serial)
			return nil
		}
	}

	rrs, err := t.axfr(ctx, z, master, source)
	if err != nil {
		return err
	}
	db, err := zone.NewDatabase(z.Origin(), z.Class(), rrs)
	if err != nil {
		return err
	}
	z.SetDatabase(db)
	t.Logger.Info("zone transferred", "zone", z.String(), "master", master.String(),
		"serial", db.Serial(), "records", db.Len())
	return nil
}

func (t *Transfer) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTransferTimeout
	}
	return t.Timeout
}

func (t *Transfer) dialer(source netip.Addr) *net.Dialer {
	d := &net.Dialer{Timeout: t.timeout()}
	if source.IsValid() {
		d.LocalAddr = &net.TCPAddr{IP: source.AsSlice()}
	}
	return d
}

func (t *Transfer) remoteSerial(ctx context.Context, z *zone.Zone, master netip.AddrPort, source netip.Addr) (uint32, error) {
	q := new(dns.Msg)
	q.SetQuestion(z.Origin(), dns.TypeSOA)
	q.Question[0].Qclass = z.Class()
	q.RecursionDesired = false

	c := &dns.Client{Net: "tcp", Timeout: t.timeout(), Dialer: t.dialer(source)}
	resp, _, err := c.ExchangeContext(ctx, q, master.String())
	if err != nil {
		return 0, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return 0, fmt.Errorf("SOA query: %s", dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial, nil
		}
	}
	return 0, errors.New("SOA query: no SOA in answer")
}

func (t *Transfer) axfr(ctx context.Context, z *zone.Zone, master netip.AddrPort, source netip.Addr) ([]dns.RR, error) {
	conn, err := t.dialer(source).DialContext(ctx, "tcp", master.String())
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	q := new(dns.Msg)
	q.SetAxfr(z.Origin())
	q.Question[0].Qclass = z.Class()

	tr := &dns.Transfer{Conn: &dns.Conn{Conn: conn}, ReadTimeout: t.timeout(), WriteTimeout: t.timeout()}
	defer tr.Close()
	env, err := tr.In(q, master.String())
	if err != nil {
		return nil, err
	}

	var rrs []dns.RR
	for e := range env {
		if e.Error != nil {
			return nil, e.Error
		}
		rrs = append(rrs, e.RR...)
	}
	// The closing SOA repeats the opening one.
	if n := len(rrs); n > 1 {
		if _, ok := rrs[n-1].(*dns.SOA); ok {
			rrs = rrs[:n-1]
		}
	}
	if len(rrs) == 0 {
		return nil, errors.New("empty transfer")
	}
	return rrs, nil
}

// serialNewer compares SOA serials with sequence space arithmetic (RFC 1982).
func serialNewer(a, b uint32) bool {
	return a != b && int32(a-b) > 0
}
