// Package server implements the name server core: configuration
// reconciliation into view generations, publication, the server lifecycle
// and the UDP/TCP query path that serves the production generation.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/jroosing/hydranamed/internal/metrics"
	"github.com/jroosing/hydranamed/internal/resolver"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// QueryHandler answers queries from the production generation of a State.
type QueryHandler struct {
	Logger  *slog.Logger   // Optional logger for debug output
	State   *State         // Source of views and settings
	Clients *ClientManager // Optional in-flight accounting
	Timeout time.Duration  // Maximum time for recursion (default: 4s)
}

// HandleResult contains the outcome of query processing.
type HandleResult struct {
	ResponseBytes []byte   // Serialized DNS response
	Source        string   // Origin of response (authoritative, cache, error type)
	Request       *dns.Msg // Parsed request, nil when it could not be parsed
}

// Handle processes a raw DNS request and returns the serialized response.
func (h *QueryHandler) Handle(ctx context.Context, transport string, src netip.AddrPort, reqBytes []byte) HandleResult {
	if h.Clients != nil {
		if !h.Clients.Begin(transport) {
			return HandleResult{Source: "shutdown"}
		}
	}
	timer := metrics.NewTimer()

	req := new(dns.Msg)
	if err := req.Unpack(reqBytes); err != nil {
		h.end(dns.RcodeFormatError)
		return HandleResult{ResponseBytes: formErrFromRaw(reqBytes), Source: "formerr"}
	}

	resp, source := h.Answer(ctx, src.Addr(), req)
	h.end(resp.Rcode)
	timer.ObserveDuration(metrics.QueryDuration)
	h.logRequest(ctx, transport, src, req, len(reqBytes), source)

	if opt := req.IsEdns0(); opt != nil {
		resp.SetEdns0(maxUDPSize, false)
	}
	if transport == "udp" {
		resp.Truncate(udpLimit(req))
	}
	b, err := resp.Pack()
	if err != nil {
		fail := new(dns.Msg).SetRcode(req, dns.RcodeServerFailure)
		b, _ = fail.Pack()
		source = "pack-error"
	}
	return HandleResult{ResponseBytes: b, Source: source, Request: req}
}

func (h *QueryHandler) end(rcode int) {
	metrics.QueriesTotal.WithLabelValues(dns.RcodeToString[rcode]).Inc()
	if h.Clients != nil {
		h.Clients.End(rcode)
	}
}

// Answer builds the response to req from a client at src. The production
// generation is held for the duration of the call.
func (h *QueryHandler) Answer(ctx context.Context, src netip.Addr, req *dns.Msg) (*dns.Msg, string) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = false

	if req.Opcode != dns.OpcodeQuery {
		resp.Rcode = dns.RcodeNotImplemented
		return resp, "notimp"
	}
	if len(req.Question) != 1 {
		resp.Rcode = dns.RcodeFormatError
		return resp, "formerr"
	}
	q := req.Question[0]
	src = src.Unmap()

	list, settings := h.State.Snapshot()
	defer list.Release()

	v, err := list.Match(q.Qclass)
	if err != nil {
		resp.Rcode = dns.RcodeRefused
		return resp, "no-view"
	}
	if !settings.QueryACL.Allowed(src) {
		resp.Rcode = dns.RcodeRefused
		return resp, "acl"
	}

	if z, err := v.FindClosest(q.Name); err == nil {
		if source, ok := h.authoritative(resp, z, src, q); ok {
			return resp, source
		}
	}

	canRecurse := settings.Recursion && settings.RecursionACL.Allowed(src) && v.Resolver() != nil
	if !canRecurse {
		resp.Rcode = dns.RcodeRefused
		return resp, "refused"
	}
	resp.RecursionAvailable = true
	if !req.RecursionDesired {
		return h.fromCache(resp, v, q)
	}
	return h.recurse(ctx, resp, v, settings, q)
}

// authoritative answers from z. ok is false when z has nothing to say and the
// query should fall through to recursion.
func (h *QueryHandler) authoritative(resp *dns.Msg, z *zone.Zone, src netip.Addr, q dns.Question) (string, bool) {
	s := z.Settings()
	if s == nil || s.Type == zone.TypeHint {
		return "", false
	}
	db := z.Database()
	if db == nil {
		return "", false
	}
	if !s.AllowQuery.Allowed(src) {
		resp.Rcode = dns.RcodeRefused
		return "zone-acl", true
	}

	if ns := db.Delegation(q.Name); len(ns) > 0 {
		resp.Ns = ns
		for _, rr := range ns {
			target := rr.(*dns.NS).Ns
			resp.Extra = append(resp.Extra, db.Lookup(target, dns.TypeA)...)
			resp.Extra = append(resp.Extra, db.Lookup(target, dns.TypeAAAA)...)
		}
		return "referral", true
	}

	resp.Authoritative = true
	if rrs := db.Lookup(q.Name, q.Qtype); len(rrs) > 0 {
		resp.Answer = rrs
		return "authoritative", true
	}
	if q.Qtype != dns.TypeCNAME {
		if rrs := db.Lookup(q.Name, dns.TypeCNAME); len(rrs) > 0 {
			resp.Answer = rrs
			return "authoritative", true
		}
	}
	if soa := db.SOA(); soa != nil {
		resp.Ns = []dns.RR{soa}
	}
	if db.NameExists(q.Name) {
		return "nodata", true
	}
	resp.Rcode = dns.RcodeNameError
	return "nxdomain", true
}

func (h *QueryHandler) fromCache(resp *dns.Msg, v *view.View, q dns.Question) (*dns.Msg, string) {
	c := v.Cache()
	if c == nil {
		resp.Rcode = dns.RcodeServerFailure
		return resp, "servfail"
	}
	rrs, _, ok := c.Lookup(q.Name, q.Qtype)
	if !ok {
		resp.Rcode = dns.RcodeRefused
		return resp, "cache-miss"
	}
	resp.Answer = rrs
	return resp, "cache"
}

func (h *QueryHandler) recurse(ctx context.Context, resp *dns.Msg, v *view.View, settings *Settings, q dns.Question) (*dns.Msg, string) {
	quota := h.State.RecursionQuota
	if !quota.TryAcquire() {
		metrics.QuotaRejections.WithLabelValues("recursive-clients").Inc()
		resp.Rcode = dns.RcodeServerFailure
		return resp, "quota"
	}
	defer quota.Release()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ans, err := v.Resolver().Resolve(ctx, q.Name, q.Qtype)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		resp.Rcode = dns.RcodeServerFailure
		return resp, "timeout"
	case errors.Is(err, resolver.ErrNoAnswer):
		resp.Rcode = dns.RcodeServerFailure
		return resp, "no-upstream"
	case err != nil:
		resp.Rcode = dns.RcodeServerFailure
		return resp, "servfail"
	}

	resp.Rcode = ans.Rcode
	resp.Answer = ans.Records
	if ans.Rcode == dns.RcodeNameError && settings.AuthNXDomain {
		resp.Authoritative = true
	}
	return resp, ans.Source
}

// logRequest logs DNS request details at debug level.
func (h *QueryHandler) logRequest(ctx context.Context, transport string, src netip.AddrPort, req *dns.Msg, reqLen int, source string) {
	if h.Logger == nil || !h.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	qname, qtype := "<no-question>", "-"
	if len(req.Question) > 0 {
		qname = req.Question[0].Name
		qtype = dns.TypeToString[req.Question[0].Qtype]
	}
	h.Logger.Debug("dns request",
		"transport", transport,
		"src", src.String(),
		"id", int(req.Id),
		"qname", qname,
		"qtype", qtype,
		"bytes", reqLen,
		"source", source,
	)
}

const maxUDPSize = 4096

// udpLimit is the response size the client accepts over UDP.
func udpLimit(req *dns.Msg) int {
	opt := req.IsEdns0()
	if opt == nil {
		return dns.MinMsgSize
	}
	return min(max(int(opt.UDPSize()), dns.MinMsgSize), maxUDPSize)
}

// formErrFromRaw builds a FORMERR reply carrying the request ID when at least
// the header is present, or nil.
func formErrFromRaw(b []byte) []byte {
	if len(b) < 12 {
		return nil
	}
	resp := new(dns.Msg)
	resp.Id = binary.BigEndian.Uint16(b)
	resp.Response = true
	resp.Opcode = int(b[2]>>3) & 0xF
	resp.Rcode = dns.RcodeFormatError
	out, err := resp.Pack()
	if err != nil {
		return nil
	}
	return out
}
