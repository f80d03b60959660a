package zone

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/miekg/dns"
)

// Source supplies a zone's records.
type Source interface {
	// ModTime reports when the data last changed. A zone whose loaded data is
	// not older than ModTime is not reloaded.
	ModTime(ctx context.Context) (time.Time, error)
	Records(ctx context.Context) ([]dns.RR, error)
}

// FileSource reads a master-format zone file.
type FileSource struct {
	Path   string
	Origin string
}

func (s FileSource) ModTime(_ context.Context) (time.Time, error) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (s FileSource) Records(ctx context.Context) ([]dns.RR, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRecords(ctx, f, s.Origin, s.Path)
}

// ParseRecords reads master-format records from r. file is used in error
// messages and to resolve $INCLUDE directives.
func ParseRecords(ctx context.Context, r io.Reader, origin, file string) ([]dns.RR, error) {
	zp := dns.NewZoneParser(r, dns.Fqdn(origin), file)
	zp.SetIncludeAllowed(true)

	var rrs []dns.RR
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if len(rrs)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rrs = append(rrs, rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return rrs, nil
}
