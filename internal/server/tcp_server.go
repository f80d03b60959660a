package server

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/jroosing/hydranamed/internal/metrics"
	"github.com/jroosing/hydranamed/internal/quota"
)

// TCP server configuration constants.
const (
	tcpReadTimeout           = 10 * time.Second
	tcpConnectionIdleTimeout = 30 * time.Second
	maxTCPConnectionsPerIP   = 10
	maxQueriesPerConnection  = 100
)

// TCPServer handles DNS queries over TCP on one listener (RFC 1035 4.2.2
// length-prefixed messages, several queries per connection).
//
// Each connection holds a slot of Quota (tcp-clients) for its lifetime.
type TCPServer struct {
	Logger  *slog.Logger  // Optional logger
	Handler *QueryHandler // Query processor
	Quota   *quota.Quota  // Optional server-wide connection cap

	mu        sync.Mutex
	ln        net.Listener
	conns     map[net.Conn]struct{}
	connPerIP map[netip.Addr]int
	wg        sync.WaitGroup
}

// Serve accepts connections on ln until it is closed.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.connPerIP = make(map[netip.Addr]int)
	s.mu.Unlock()

	for {
		c, err := ln.Accept()
		if err != nil {
			return nil
		}
		ip := remoteAddrPort(c.RemoteAddr()).Addr()

		if s.Quota != nil && !s.Quota.TryAcquire() {
			metrics.QuotaRejections.WithLabelValues("tcp-clients").Inc()
			_ = c.Close()
			continue
		}
		if !s.tryAcquireConn(ip, c) {
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "tcp connection limit exceeded", "ip", ip.String())
			}
			s.releaseQuota()
			_ = c.Close()
			continue
		}

		s.wg.Go(func() {
			defer s.releaseQuota()
			defer s.releaseConn(ip, c)
			s.handleConnection(ctx, c)
		})
	}
}

func (s *TCPServer) releaseQuota() {
	if s.Quota != nil {
		s.Quota.Release()
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(tcpConnectionIdleTimeout))
	peer := remoteAddrPort(conn.RemoteAddr())

	for range maxQueriesPerConnection {
		if ctx.Err() != nil || s.Handler == nil {
			return
		}
		msg, ok := readMessage(conn)
		if !ok {
			return
		}
		if len(msg) == 0 {
			continue
		}
		_ = conn.SetDeadline(time.Now().Add(tcpConnectionIdleTimeout))

		res := s.Handler.Handle(ctx, "tcp", peer, msg)
		if len(res.ResponseBytes) == 0 {
			continue
		}
		if !writeMessage(conn, res.ResponseBytes) {
			return
		}
	}
}

// readMessage reads one length-prefixed message.
func readMessage(conn net.Conn) ([]byte, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, false
	}
	msgLen := int(binary.BigEndian.Uint16(lenBuf[:]))
	if msgLen == 0 {
		return nil, true
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, false
	}
	return msg, true
}

// writeMessage writes response with its length prefix.
func writeMessage(conn net.Conn, response []byte) bool {
	if len(response) > maxIncomingMessageSize {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(tcpReadTimeout))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(response)))
	bufs := net.Buffers{lenBuf[:], response}
	_, err := bufs.WriteTo(conn)
	return err == nil
}

// Stop closes the listener and open connections, then waits up to timeout.
func (s *TCPServer) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	return waitGroupTimeout(&s.wg, timeout, "tcp server: timeout waiting for connections")
}

// listenTCP opens a TCP listener on addr with SO_REUSEADDR.
func listenTCP(ctx context.Context, addr netip.AddrPort) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.Listen(ctx, "tcp", addr.String())
}

// remoteAddrPort converts a net.Addr to an unmapped netip.AddrPort.
func remoteAddrPort(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	case *net.UDPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	if addr == nil {
		return netip.AddrPort{}
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}

func (s *TCPServer) tryAcquireConn(ip netip.Addr, c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connPerIP[ip] >= maxTCPConnectionsPerIP {
		return false
	}
	s.connPerIP[ip]++
	s.conns[c] = struct{}{}
	return true
}

func (s *TCPServer) releaseConn(ip netip.Addr, c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	if s.connPerIP[ip] <= 1 {
		delete(s.connPerIP, ip)
		return
	}
	s.connPerIP[ip]--
}
