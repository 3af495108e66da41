package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show handoff status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "handoff %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Server:  port=%d bind=%s origins=%d\n",
				cfg.Server.Port, cfg.Server.Bind, len(cfg.Server.AllowedOrigins))
			fmt.Fprintf(out, "Store:   driver=%s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "PubSub:  driver=%s\n", cfg.PubSub.Driver)
			fmt.Fprintf(out, "Tokens:  ttl=%s secret=%t\n", cfg.Token.TTL(), cfg.Token.Secret != "")

			if len(cfg.Agents) == 0 {
				fmt.Fprintln(out, "Agents:  (none)")
			}
			for _, a := range cfg.Agents {
				vendor := string(a.Handoff.Type)
				if vendor == "" {
					vendor = "(handoff disabled)"
				}
				fmt.Fprintf(out, "Agent:   id=%s org=%s vendor=%s availabilityCheck=%t\n",
					a.ID, a.OrganizationID, vendor, a.Handoff.AvailabilityCheck)
			}

			if server == "" {
				server = defaultServerURL()
			}
			if state, err := newRelayClient(server).health(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Relay:   %s unreachable (%v)\n", server, err)
			} else {
				fmt.Fprintf(out, "Relay:   %s %s\n", server, state)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL to probe (default from config)")
	return cmd
}
