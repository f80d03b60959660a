// Package keyring holds the TSIG keys of a view and the server's TKEY
// negotiation context.
package keyring

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jroosing/hydranamed/internal/config"
	"github.com/miekg/dns"
)

// ErrKey marks an invalid key definition.
var ErrKey = errors.New("invalid key")

var algorithms = map[string]string{
	"hmac-md5":                 dns.HmacMD5,
	"hmac-md5.sig-alg.reg.int": dns.HmacMD5,
	"hmac-sha1":                dns.HmacSHA1,
	"hmac-sha224":              dns.HmacSHA224,
	"hmac-sha256":              dns.HmacSHA256,
	"hmac-sha384":              dns.HmacSHA384,
	"hmac-sha512":              dns.HmacSHA512,
}

// Key is a shared-secret TSIG key.
type Key struct {
	Name      string // canonical
	Algorithm string // miekg/dns algorithm name
	Secret    []byte
}

// Ring is an immutable set of keys indexed by name.
type Ring struct {
	keys map[string]*Key
}

// New builds a ring from key lists. Later lists shadow earlier ones, so view
// keys passed after the global keys win. A name repeated within one list is
// an error.
func New(lists ...[]config.KeyConfig) (*Ring, error) {
	r := &Ring{keys: make(map[string]*Key)}
	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for _, kc := range list {
			k, err := parseKey(kc)
			if err != nil {
				return nil, err
			}
			if seen[k.Name] {
				return nil, fmt.Errorf("%w: duplicate key %s", ErrKey, k.Name)
			}
			seen[k.Name] = true
			r.keys[k.Name] = k
		}
	}
	return r, nil
}

func parseKey(kc config.KeyConfig) (*Key, error) {
	if _, ok := dns.IsDomainName(kc.Name); !ok || kc.Name == "" {
		return nil, fmt.Errorf("%w: bad name %q", ErrKey, kc.Name)
	}
	alg, ok := algorithms[strings.TrimSuffix(strings.ToLower(kc.Algorithm), ".")]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unsupported algorithm %q", ErrKey, kc.Name, kc.Algorithm)
	}
	secret, err := base64.StdEncoding.DecodeString(kc.Secret)
	if err != nil || len(secret) == 0 {
		return nil, fmt.Errorf("%w: %s: secret is not base64", ErrKey, kc.Name)
	}
	return &Key{Name: dns.CanonicalName(kc.Name), Algorithm: alg, Secret: secret}, nil
}

// Find returns the key with the given name.
func (r *Ring) Find(name string) (*Key, bool) {
	if r == nil {
		return nil, false
	}
	k, ok := r.keys[dns.CanonicalName(name)]
	return k, ok
}

// Len returns the number of keys.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Names returns the sorted key names.
func (r *Ring) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.keys))
	for n := range r.keys {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Secrets returns the keys in the form dns.Server.TsigSecret expects.
func (r *Ring) Secrets() map[string]string {
	out := make(map[string]string, r.Len())
	if r == nil {
		return out
	}
	for n, k := range r.keys {
		out[n] = base64.StdEncoding.EncodeToString(k.Secret)
	}
	return out
}

// TKEYContext holds the parameters for TKEY negotiated keys. It is replaced
// as a whole on every reconfiguration.
type TKEYContext struct {
	Domain string
	DHKey  string

	mu        sync.Mutex
	destroyed bool
}

// NewTKEYContext validates cfg. A nil cfg yields a nil context.
func NewTKEYContext(cfg *config.TKEYConfig) (*TKEYContext, error) {
	if cfg == nil {
		return nil, nil
	}
	domain := cfg.Domain
	if domain == "" {
		domain = "."
	}
	if _, ok := dns.IsDomainName(domain); !ok {
		return nil, fmt.Errorf("%w: tkey domain %q", ErrKey, cfg.Domain)
	}
	if strings.TrimSpace(cfg.DHKey) == "" {
		return nil, fmt.Errorf("%w: tkey dhkey is empty", ErrKey)
	}
	return &TKEYContext{Domain: dns.CanonicalName(domain), DHKey: cfg.DHKey}, nil
}

// Destroy releases the context. It is safe to call on nil and more than once.
func (c *TKEYContext) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (c *TKEYContext) Destroyed() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
