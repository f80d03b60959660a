package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jroosing/hydranamed/internal/store"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

var importZoneCmd = &cobra.Command{
	Use:   "import-zone <origin> <zonefile> <database>",
	Short: "Import a zone file into a SQLite zone store",
	Long: `Parse a master file and replace the records of <origin> in the SQLite
store at <database>. Zones configured with database: "sqlite:<database>"
serve the imported records after the next reload.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, file, dbPath := args[0], args[1], args[2]
		className, _ := cmd.Flags().GetString("class")
		class, ok := dns.StringToClass[strings.ToUpper(className)]
		if !ok {
			return fmt.Errorf("unknown class %q", className)
		}

		rrs, err := readZoneFile(cmd.Context(), origin, file)
		if err != nil {
			return err
		}
		if _, err := zone.NewDatabase(origin, class, rrs); err != nil {
			return err
		}

		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.PutZone(cmd.Context(), origin, class, rrs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s (%s)\n",
			len(rrs), dns.CanonicalName(origin), dbPath)
		return nil
	},
}

var printZoneCmd = &cobra.Command{
	Use:   "print-zone <origin> <zonefile>",
	Short: "Parse a zone file and print its records in canonical order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rrs, err := readZoneFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		slices.SortStableFunc(rrs, func(a, b dns.RR) int {
			ha, hb := a.Header(), b.Header()
			if c := cmp.Compare(dns.CanonicalName(ha.Name), dns.CanonicalName(hb.Name)); c != 0 {
				return c
			}
			if c := cmp.Compare(ha.Rrtype, hb.Rrtype); c != 0 {
				return c
			}
			return cmp.Compare(a.String(), b.String())
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "; origin %s, %d records\n", dns.CanonicalName(args[0]), len(rrs))
		for _, rr := range rrs {
			fmt.Fprintln(out, rr.String())
		}
		return nil
	},
}

func init() {
	importZoneCmd.Flags().String("class", "IN", "Zone class")
}

func readZoneFile(ctx context.Context, origin, path string) ([]dns.RR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return zone.ParseRecords(ctx, f, dns.CanonicalName(origin), path)
}
