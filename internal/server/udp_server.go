package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const maxIncomingMessageSize = 65535

// bufferPool reduces allocations for incoming UDP packets.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, maxIncomingMessageSize)
		return &buf
	},
}

// UDPServer handles DNS queries over UDP on one socket.
//
// Requests are handled concurrently up to MaxConcurrency; packets arriving
// while every slot is busy are dropped.
type UDPServer struct {
	Logger         *slog.Logger  // Optional logger
	Handler        *QueryHandler // Query processor
	MaxConcurrency int           // Maximum concurrent request handlers

	mu   sync.Mutex
	conn *net.UDPConn
	wg   sync.WaitGroup
	sem  chan struct{}
}

// RunOnConn serves conn until ctx is cancelled or Stop is called.
func (s *UDPServer) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	maxConc := s.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}
	s.sem = make(chan struct{}, maxConc)

	for ctx.Err() == nil {
		packet, remote, ok, closed := s.receivePacket(conn)
		if closed {
			return nil
		}
		if !ok {
			continue
		}
		if !s.tryAcquireSemaphore() {
			continue
		}
		s.wg.Go(func() {
			defer func() { <-s.sem }()
			s.handleRequest(ctx, conn, packet, remote)
		})
	}
	return nil
}

// receivePacket reads one packet. closed reports that the socket is gone.
func (s *UDPServer) receivePacket(conn *net.UDPConn) (data []byte, remote netip.AddrPort, ok, closed bool) {
	bufPtr := bufferPool.Get().(*[]byte)
	buf := *bufPtr
	defer bufferPool.Put(bufPtr)

	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, remote, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return nil, remote, false, false
		}
		return nil, remote, false, errors.Is(err, net.ErrClosed)
	}

	data = make([]byte, n)
	copy(data, buf[:n])
	return data, remote, true, false
}

func (s *UDPServer) tryAcquireSemaphore() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *UDPServer) handleRequest(ctx context.Context, conn *net.UDPConn, payload []byte, peer netip.AddrPort) {
	if s.Handler == nil {
		return
	}
	res := s.Handler.Handle(ctx, "udp", peer, payload)
	if len(res.ResponseBytes) == 0 {
		return
	}
	if _, err := conn.WriteToUDPAddrPort(res.ResponseBytes, peer); err != nil && s.Logger != nil {
		s.Logger.Debug("udp write failed", "peer", peer.String(), "err", err)
	}
}

// Stop closes the socket and waits up to timeout for in-flight requests.
func (s *UDPServer) Stop(timeout time.Duration) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.Close()
	return waitGroupTimeout(&s.wg, timeout, "udp server: timeout waiting for in-flight requests")
}

func waitGroupTimeout(wg *sync.WaitGroup, timeout time.Duration, msg string) error {
	if timeout <= 0 {
		wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New(msg)
	}
}

// reuseAddr sets SO_REUSEADDR so a listener can be rebound right after a
// rescan released it.
func reuseAddr(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// listenUDP opens a UDP socket on addr with SO_REUSEADDR.
func listenUDP(ctx context.Context, addr netip.AddrPort) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
