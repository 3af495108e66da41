package cli

import (
	"fmt"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect configured agents",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsInfoCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents and their live-agent platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Agents) == 0 {
				fmt.Fprintln(out, "  (no agents configured)")
				return nil
			}
			for _, a := range cfg.Agents {
				vendor := string(a.Handoff.Type)
				if vendor == "" {
					vendor = "-"
				}
				fmt.Fprintf(out, "  %-16s %-16s %s\n", a.ID, a.OrganizationID, vendor)
			}
			return nil
		},
	}
}

func newAgentsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <agent-id>",
		Short: "Show the configuration an agent serves to clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			a, ok := cfg.Agent(args[0])
			if !ok {
				return fmt.Errorf("agent %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:            %s\n", a.ID)
			fmt.Fprintf(out, "Organization:  %s\n", a.OrganizationID)
			fmt.Fprintf(out, "Signed users:  %t\n", a.IdentitySecret != "")

			safe := a.Handoff.ClientSafe()
			if safe.Type == "" {
				fmt.Fprintln(out, "Handoff:       disabled")
				return nil
			}
			fmt.Fprintf(out, "Handoff:       %s\n", safe.Type)
			fmt.Fprintf(out, "Availability:  %t\n", safe.AvailabilityCheck)
			for _, f := range safe.CustomFields {
				req := ""
				if f.Required {
					req = " (required)"
				}
				fmt.Fprintf(out, "Field:         %s %q%s\n", f.Name, f.Label, req)
			}
			return nil
		},
	}
}
