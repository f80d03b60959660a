package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
)

// ClientStats is a point-in-time snapshot of query accounting.
type ClientStats struct {
	QueriesTotal uint64
	QueriesUDP   uint64
	QueriesTCP   uint64
	ResponsesNX  uint64
	ResponsesErr uint64
	InFlight     int64
}

// ClientManager tracks in-flight queries so shutdown can wait for them.
// All methods are safe for concurrent use.
type ClientManager struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	inFlight     atomic.Int64
	queriesTotal atomic.Uint64
	queriesUDP   atomic.Uint64
	queriesTCP   atomic.Uint64
	responsesNX  atomic.Uint64
	responsesErr atomic.Uint64
}

// NewClientManager returns an open manager.
func NewClientManager() *ClientManager {
	return &ClientManager{}
}

// Begin admits a query arriving over transport ("udp" or "tcp"). It returns
// false once the manager is destroyed; otherwise the caller must call End.
func (m *ClientManager) Begin(transport string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	m.inFlight.Add(1)
	m.queriesTotal.Add(1)
	switch transport {
	case "udp":
		m.queriesUDP.Add(1)
	case "tcp":
		m.queriesTCP.Add(1)
	}
	return true
}

// End finishes a query admitted by Begin, recording its response code.
func (m *ClientManager) End(rcode int) {
	switch {
	case rcode == dns.RcodeNameError:
		m.responsesNX.Add(1)
	case rcode != dns.RcodeSuccess:
		m.responsesErr.Add(1)
	}
	m.inFlight.Add(-1)
	m.wg.Done()
}

// Destroy stops admitting queries and waits for the in-flight ones or for
// ctx to end.
func (m *ClientManager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (m *ClientManager) Stats() ClientStats {
	return ClientStats{
		QueriesTotal: m.queriesTotal.Load(),
		QueriesUDP:   m.queriesUDP.Load(),
		QueriesTCP:   m.queriesTCP.Load(),
		ResponsesNX:  m.responsesNX.Load(),
		ResponsesErr: m.responsesErr.Load(),
		InFlight:     m.inFlight.Load(),
	}
}
