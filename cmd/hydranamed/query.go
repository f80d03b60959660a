package main

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <name> [type]",
	Short: "Send one query to a name server and print the answer",
	Long: `Send one query and print the response code and the answer section in
sorted order. Useful against a running hydranamed, for example:

  hydranamed query --server 127.0.0.1:53 --class CH version.bind TXT`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		className, _ := cmd.Flags().GetString("class")
		useTCP, _ := cmd.Flags().GetBool("tcp")
		norec, _ := cmd.Flags().GetBool("norec")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		typeName := "A"
		if len(args) == 2 {
			typeName = args[1]
		}
		qtype, ok := dns.StringToType[strings.ToUpper(typeName)]
		if !ok {
			return fmt.Errorf("unknown type %q", typeName)
		}
		qclass, ok := dns.StringToClass[strings.ToUpper(className)]
		if !ok {
			return fmt.Errorf("unknown class %q", className)
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}

		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(args[0]), qtype)
		m.Question[0].Qclass = qclass
		m.RecursionDesired = !norec

		c := &dns.Client{Timeout: timeout}
		if useTCP {
			c.Net = "tcp"
		}
		resp, rtt, err := c.ExchangeContext(cmd.Context(), m, server)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id=%d rcode=%s aa=%t answers=%d authorities=%d additionals=%d rtt=%s\n",
			resp.Id, dns.RcodeToString[resp.Rcode], resp.Authoritative,
			len(resp.Answer), len(resp.Ns), len(resp.Extra), rtt.Round(time.Microsecond))

		rows := make([]string, 0, len(resp.Answer))
		for _, rr := range resp.Answer {
			rows = append(rows, rr.String())
		}
		slices.Sort(rows)
		for _, s := range rows {
			fmt.Fprintln(out, s)
		}
		return nil
	},
}

func init() {
	f := queryCmd.Flags()
	f.String("server", "127.0.0.1:53", "Name server HOST[:PORT]")
	f.String("class", "IN", "Query class")
	f.Bool("tcp", false, "Query over TCP")
	f.Bool("norec", false, "Clear the recursion desired flag")
	f.Duration("timeout", 2*time.Second, "Timeout")
	rootCmd.AddCommand(queryCmd)
}
