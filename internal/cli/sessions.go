package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the handoff session registry",
	}

	cmd.AddCommand(newSessionsListCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent handoff sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch domain.SessionStatus(status) {
			case "", domain.SessionActive, domain.SessionEnded:
			default:
				return fmt.Errorf("unknown status %q (want active or ended)", status)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.Store, paths.SessionDB(), log)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer db.Close()

			sessions, err := store.NewSessionStore(db).List(cmd.Context(), domain.SessionStatus(status), limit)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only sessions with this status (active, ended)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions")

	return cmd
}

func printSessions(w io.Writer, sessions []domain.HandoffSession) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tVENDOR\tCONVERSATION\tSTATUS\tACK\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.AgentID, s.Vendor, s.ConversationID, s.Status, s.Ack,
			s.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
