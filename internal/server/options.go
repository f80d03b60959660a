package server

import (
	"fmt"

	"github.com/jroosing/hydranamed/internal/acl"
	"github.com/jroosing/hydranamed/internal/config"
)

// Limits are the quota maxima of one generation.
type Limits struct {
	TransfersOut     int
	TCPClients       int
	RecursiveClients int
}

// quotaOptions maps each quota directive to its accessor and default. An
// absent directive resets the quota to its default.
var quotaOptions = []struct {
	name   string
	get    func(*config.Config) (int, bool)
	def    int
	target func(*Limits) *int
}{
	{"transfers-out", (*config.Config).TransfersOut, config.DefaultTransfersOut, func(l *Limits) *int { return &l.TransfersOut }},
	{"tcp-clients", (*config.Config).TCPClients, config.DefaultTCPClients, func(l *Limits) *int { return &l.TCPClients }},
	{"recursive-clients", (*config.Config).RecursiveClients, config.DefaultRecursiveClients, func(l *Limits) *int { return &l.RecursiveClients }},
}

// aclOptions maps each address match list directive to its accessor. An
// absent list resets to unrestricted.
var aclOptions = []struct {
	name   string
	get    func(*config.Config) []string
	target func(*Settings) **acl.ACL
}{
	{"allow-query", (*config.Config).QueryACL, func(s *Settings) **acl.ACL { return &s.QueryACL }},
	{"allow-recursion", (*config.Config).RecursionACL, func(s *Settings) **acl.ACL { return &s.RecursionACL }},
	{"allow-transfer", (*config.Config).TransferACL, func(s *Settings) **acl.ACL { return &s.TransferACL }},
}

// configureOptions computes the settings and limits of a configuration
// without applying anything.
func configureOptions(cfg *config.Config) (*Settings, Limits, error) {
	var limits Limits
	for _, q := range quotaOptions {
		v, ok := q.get(cfg)
		if !ok {
			v = q.def
		}
		if v < 0 {
			return nil, Limits{}, fmt.Errorf("%w: %s must not be negative", config.ErrParse, q.name)
		}
		*q.target(&limits) = v
	}

	s := &Settings{
		Recursion:      cfg.Recursion(),
		AuthNXDomain:   cfg.AuthNXDomain(),
		TransferFormat: cfg.TransferFormat(),
	}
	for _, a := range aclOptions {
		items := a.get(cfg)
		if items == nil {
			continue
		}
		parsed, err := acl.Parse(items)
		if err != nil {
			return nil, Limits{}, fmt.Errorf("%w: %s: %w", config.ErrParse, a.name, err)
		}
		*a.target(s) = parsed
	}
	return s, limits, nil
}
