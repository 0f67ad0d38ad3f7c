package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quota-bridge/portal/internal/config"
)

func routesCmd(load func() (*config.Config, error)) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the effective route table",
		Long: `Print the route table after portal.json overrides are applied.

Examples:
  portal routes
  portal routes --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			resolver, err := cfg.Resolver()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"paths":  resolver.Paths(),
					"routes": resolver.Routes(),
				})
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tREALM\tACCESS\tTITLE\tREDIRECT")
			for _, r := range resolver.Routes() {
				access := "signed in"
				switch {
				case r.Public:
					access = "public"
				case r.RequiresAdminRole:
					access = "admin"
				}
				realmName := string(r.Realm)
				if realmName == "" {
					realmName = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Path, realmName, access, r.Title, r.Redirect)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the table as JSON")

	return cmd
}
