package zone

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jroosing/hydranamed/internal/acl"
	"github.com/jroosing/hydranamed/internal/config"
)

// ErrConfig marks a structurally invalid zone statement.
var ErrConfig = errors.New("zone configuration error")

// Type is the zone's role.
type Type int

const (
	TypeMaster Type = iota + 1
	TypeSlave
	TypeStub
	TypeHint
)

// ParseType parses a zone type mnemonic. An empty string means master.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "master", "primary":
		return TypeMaster, nil
	case "slave", "secondary":
		return TypeSlave, nil
	case "stub":
		return TypeStub, nil
	case "hint":
		return TypeHint, nil
	default:
		return 0, fmt.Errorf("%w: unknown zone type %q", ErrConfig, s)
	}
}

func (t Type) String() string {
	switch t {
	case TypeMaster:
		return "master"
	case TypeSlave:
		return "slave"
	case TypeStub:
		return "stub"
	case TypeHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Transferred reports whether the zone's data comes from its masters.
func (t Type) Transferred() bool { return t == TypeSlave || t == TypeStub }

// Settings is the configured, immutable state of a zone. A zone's settings are
// replaced as a whole, never edited.
type Settings struct {
	Type     Type
	File     string // resolved against options.directory
	Database string // "sqlite:<path>", path resolved against options.directory
	Masters  []netip.AddrPort

	AllowQuery    *acl.ACL
	AllowTransfer *acl.ACL
	AllowUpdate   *acl.ACL

	TransferSource netip.Addr
	Notify         bool
}

// NewSettings validates a zone statement and builds its settings.
func NewSettings(zc *config.ZoneConfig, directory string) (*Settings, error) {
	typ, err := ParseType(zc.Type)
	if err != nil {
		return nil, err
	}
	s := &Settings{
		Type:   typ,
		File:   resolvePath(directory, zc.File),
		Notify: typ == TypeMaster,
	}
	if zc.Notify != nil {
		s.Notify = *zc.Notify
	}

	if zc.Database != "" {
		backend, path, ok := strings.Cut(zc.Database, ":")
		if !ok || backend != "sqlite" || path == "" {
			return nil, fmt.Errorf("%w: zone %s: unsupported database %q", ErrConfig, zc.Name, zc.Database)
		}
		s.Database = "sqlite:" + resolvePath(directory, path)
	}

	for _, m := range zc.Masters {
		ap, err := parseMaster(m)
		if err != nil {
			return nil, fmt.Errorf("%w: zone %s: master %q: %w", ErrConfig, zc.Name, m, err)
		}
		s.Masters = append(s.Masters, ap)
	}

	switch typ {
	case TypeMaster:
		if s.File == "" && s.Database == "" {
			return nil, fmt.Errorf("%w: zone %s: master zone needs a file or database", ErrConfig, zc.Name)
		}
	case TypeSlave, TypeStub:
		if len(s.Masters) == 0 {
			return nil, fmt.Errorf("%w: zone %s: %s zone needs masters", ErrConfig, zc.Name, typ)
		}
	case TypeHint:
		if s.File == "" {
			return nil, fmt.Errorf("%w: zone %s: hint zone needs a file", ErrConfig, zc.Name)
		}
	}

	if s.AllowQuery, err = optionalACL(zc.AllowQuery); err != nil {
		return nil, fmt.Errorf("%w: zone %s: allow_query: %w", ErrConfig, zc.Name, err)
	}
	if s.AllowTransfer, err = optionalACL(zc.AllowTransfer); err != nil {
		return nil, fmt.Errorf("%w: zone %s: allow_transfer: %w", ErrConfig, zc.Name, err)
	}
	if s.AllowUpdate, err = optionalACL(zc.AllowUpdate); err != nil {
		return nil, fmt.Errorf("%w: zone %s: allow_update: %w", ErrConfig, zc.Name, err)
	}

	if zc.TransferSource != "" {
		a, err := netip.ParseAddr(zc.TransferSource)
		if err != nil {
			return nil, fmt.Errorf("%w: zone %s: transfer_source: %w", ErrConfig, zc.Name, err)
		}
		s.TransferSource = a
	}
	return s, nil
}

// SQLitePath returns the store path of a "sqlite:" database, or "".
func (s *Settings) SQLitePath() string {
	return strings.TrimPrefix(s.Database, "sqlite:")
}

func optionalACL(items []string) (*acl.ACL, error) {
	if items == nil {
		return nil, nil
	}
	return acl.Parse(items)
}

func resolvePath(directory, p string) string {
	if p == "" || filepath.IsAbs(p) || directory == "" {
		return p
	}
	return filepath.Join(directory, p)
}

func parseMaster(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if a, err := netip.ParseAddr(s); err == nil {
		return netip.AddrPortFrom(a, config.DefaultPort), nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(a, uint16(p)), nil
}

// Reusable reports whether z can keep serving under the new settings: same
// type, class, backing file or database, and masters. Everything else
// (ACLs, notify, transfer source) can be changed in place.
func Reusable(z *Zone, class uint16, s *Settings) bool {
	old := z.Settings()
	if old == nil || s == nil {
		return false
	}
	return z.class == class &&
		old.Type == s.Type &&
		old.File == s.File &&
		old.Database == s.Database &&
		slices.Equal(old.Masters, s.Masters)
}
