package server

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/jroosing/hydranamed/internal/acl"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/quota"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

//go:embed root.hints
var rootHints []byte

// Settings are the server-wide options of one generation. They are published
// together with the view list and never modified afterwards.
type Settings struct {
	Recursion      bool
	AuthNXDomain   bool
	TransferFormat string

	QueryACL     *acl.ACL
	RecursionACL *acl.ACL
	TransferACL  *acl.ACL
}

// defaultSettings apply before the first configuration is published.
func defaultSettings() *Settings {
	return &Settings{Recursion: true, TransferFormat: config.DefaultTransferFormat}
}

// State is the server's shared state: the production generation, its
// settings, the concurrency quotas and the root hints.
//
// Readers take the read lock only long enough to attach to the current list;
// the writer only exchanges pointers under the write lock.
type State struct {
	mu       sync.RWMutex
	list     *view.List
	settings *Settings

	XfroutQuota    *quota.Quota
	TCPQuota       *quota.Quota
	RecursionQuota *quota.Quota

	hints *zone.Database
}

// NewState returns a state serving an empty generation.
func NewState() (*State, error) {
	hints, err := parseRootHints()
	if err != nil {
		return nil, err
	}
	return &State{
		list:           view.NewList(),
		settings:       defaultSettings(),
		XfroutQuota:    quota.New(config.DefaultTransfersOut),
		TCPQuota:       quota.New(config.DefaultTCPClients),
		RecursionQuota: quota.New(config.DefaultRecursiveClients),
		hints:          hints,
	}, nil
}

func parseRootHints() (*zone.Database, error) {
	rrs, err := zone.ParseRecords(context.Background(), bytes.NewReader(rootHints), ".", "root.hints")
	if err != nil {
		return nil, fmt.Errorf("root hints: %w", err)
	}
	return zone.NewDatabase(".", dns.ClassINET, rrs)
}

// Views returns the production list with a reference held for the caller,
// who must Release it.
func (s *State) Views() *view.List {
	s.mu.RLock()
	l := s.list.Attach()
	s.mu.RUnlock()
	return l
}

// Snapshot returns the production list (attached) and its settings as one
// consistent pair.
func (s *State) Snapshot() (*view.List, *Settings) {
	s.mu.RLock()
	l, st := s.list.Attach(), s.settings
	s.mu.RUnlock()
	return l, st
}

// Settings returns the settings of the production generation.
func (s *State) Settings() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Hints returns the built-in root hints.
func (s *State) Hints() *zone.Database { return s.hints }

// Publish makes list the production generation and returns the previous one.
// Publish takes over the caller's reference to list; the caller must Release
// the returned list, outside any lock it holds.
func (s *State) Publish(list *view.List, settings *Settings) *view.List {
	if settings == nil {
		settings = defaultSettings()
	}
	s.mu.Lock()
	old := s.list
	s.list, s.settings = list, settings
	s.mu.Unlock()
	return old
}

// Detach replaces production with an empty generation and releases the old
// one. Used at shutdown.
func (s *State) Detach() {
	old := s.Publish(view.NewList(), nil)
	old.Release()
}

// ApplyLimits updates the quota maxima in place. Work already admitted keeps
// its slot.
func (s *State) ApplyLimits(l Limits) {
	s.XfroutQuota.SetMax(l.TransfersOut)
	s.TCPQuota.SetMax(l.TCPClients)
	s.RecursionQuota.SetMax(l.RecursiveClients)
}
