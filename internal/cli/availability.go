package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAvailabilityCmd() *cobra.Command {
	var (
		server  string
		agentID string
	)

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Ask a relay whether a live agent can take a handoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServerURL()
			}
			res, err := newRelayClient(server).availability(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			state := "unavailable"
			if res.Available {
				state = "available"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", agentID, state, res.Type)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL (default from config)")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}
