package server

import (
	"fmt"
	"strings"

	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
)

// Version is reported by version.bind when options.version is not set.
// Overridden at link time with -ldflags "-X ...server.Version=...".
var Version = "hydranamed 0.1.0"

const (
	versionViewName = "_version"
	versionZoneName = "version.bind."
	maxTXTString    = 255
)

// buildVersionView returns the frozen CHAOS view answering
// "version.bind. CH TXT" with text.
func buildVersionView(text string) (*view.View, error) {
	if len(text) > maxTXTString {
		text = text[:maxTXTString]
	}

	z, err := zone.New(versionZoneName, dns.ClassCHAOS)
	if err != nil {
		return nil, err
	}
	if err := z.Configure(&zone.Settings{Type: zone.TypeMaster}); err != nil {
		z.Detach()
		return nil, err
	}
	txt := &dns.TXT{
		Hdr: dns.RR_Header{Name: versionZoneName, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS},
		Txt: []string{escapeTXT(text)},
	}
	db, err := zone.NewDatabase(versionZoneName, dns.ClassCHAOS, []dns.RR{txt})
	if err != nil {
		z.Detach()
		return nil, fmt.Errorf("version view: %w", err)
	}
	z.SetDatabase(db)

	v := view.New(versionViewName, dns.ClassCHAOS)
	if err := v.AddZone(z); err != nil {
		z.Detach()
		v.Detach()
		return nil, err
	}
	if err := v.Freeze(); err != nil {
		v.Detach()
		return nil, err
	}
	return v, nil
}

// escapeTXT converts raw bytes to the presentation form miekg/dns stores in
// TXT strings.
func escapeTXT(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < ' ' || c > '~':
			fmt.Fprintf(&b, "\\%03d", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
