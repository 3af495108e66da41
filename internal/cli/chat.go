package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/widget"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		server  string
		agentID string
		orgID   string
		email   string
		subject string
		signed  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a live agent through a relay from the terminal",
		Long: "chat requests a handoff for the given agent, prints the live agent's " +
			"messages as they arrive and sends each line typed on stdin. Type /end to leave.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServerURL()
			}
			if orgID == "" {
				if cfg, err := config.Load(paths.Config); err == nil {
					if a, ok := cfg.Agent(agentID); ok {
						orgID = a.OrganizationID
					}
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			relay := newRelayClient(server)
			hcfg, err := relay.clientConfig(ctx, agentID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if hcfg.AvailabilityCheck {
				res, err := relay.availability(ctx, agentID)
				if err != nil {
					return err
				}
				if !res.Available {
					msg := hcfg.UnavailableMessage
					if msg == "" {
						msg = "No agents are available right now."
					}
					fmt.Fprintln(out, msg)
					return nil
				}
			}

			strategy := handoff.NewStrategy(hcfg)
			if strategy == nil {
				return fmt.Errorf("agent %q has no live-agent handoff configured", agentID)
			}
			tr := newTranscript(out, strategy)

			sess := widget.New(widget.Config{
				BaseURL:        server,
				AgentID:        agentID,
				OrganizationID: orgID,
				Subject:        subject,
				Handoff:        hcfg,
			},
				widget.WithLogger(log.Sub("widget")),
				widget.WithOnChange(tr.update),
			)
			defer sess.Close()

			params := widget.InitParams{SignedUserData: signed, Email: email}
			if subject != "" {
				params.Messages = []domain.Message{{Type: domain.MessageUser, Text: subject}}
			}
			if err := sess.Initialize(ctx, params); err != nil {
				return err
			}

			return chatLoop(ctx, os.Stdin, sess, tr)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "relay base URL (default from config)")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID")
	cmd.Flags().StringVar(&orgID, "org", "", "organization ID (default from config)")
	cmd.Flags().StringVar(&email, "email", "", "email address passed to the live agent")
	cmd.Flags().StringVar(&subject, "subject", "", "first message describing what the chat is about")
	cmd.Flags().StringVar(&signed, "signed-user-data", "", "signed user data token")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

// asker is the part of the widget session the input loop drives.
type asker interface {
	Ask(ctx context.Context, text string) error
	End()
}

// chatLoop sends stdin lines until /end, EOF, cancellation or the agent
// ending the chat.
func chatLoop(ctx context.Context, in io.Reader, sess asker, tr *transcript) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sess.End()
			return nil
		case <-tr.ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				sess.End()
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/end":
				sess.End()
				return nil
			}
			if err := sess.Ask(ctx, line); err != nil {
				if errors.Is(err, widget.ErrNotInitialized) {
					return nil
				}
				fmt.Fprintf(tr.w, "! message not delivered: %v\n", err)
			}
		}
	}
}

// transcript prints handoff state changes as terminal lines. Updates arrive
// from the stream goroutine and the input loop.
type transcript struct {
	w        io.Writer
	strategy handoff.Strategy

	mu      sync.Mutex
	printed int
	agent   string
	typing  bool
	started bool
	once    sync.Once
	ended   chan struct{}
}

func newTranscript(w io.Writer, strategy handoff.Strategy) *transcript {
	return &transcript{w: w, strategy: strategy, ended: make(chan struct{})}
}

func (t *transcript) update(st domain.HandoffState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st.AgentName != "" && st.AgentName != t.agent {
		t.agent = st.AgentName
		fmt.Fprintf(t.w, "* %s joined the chat\n", t.agent)
	}
	for _, ev := range st.Events[min(t.printed, len(st.Events)):] {
		t.printEvent(ev)
	}
	t.printed = len(st.Events)

	typing := t.strategy.ShowAgentTypingIndicator(st.Events)
	if typing && !t.typing {
		fmt.Fprintln(t.w, "* agent is typing...")
	}
	t.typing = typing

	switch st.Status {
	case domain.StatusInitialized:
		t.started = true
	case domain.StatusNotInitialized:
		if t.started || st.Error != "" {
			t.once.Do(func() { close(t.ended) })
		}
	}
}

func (t *transcript) printEvent(ev domain.HandoffEvent) {
	switch {
	case ev.Type == domain.EventUserMessage, ev.Text == "":
		// Typed by the user or nothing to show.
	case ev.AuthorName != "":
		fmt.Fprintf(t.w, "%s: %s\n", ev.AuthorName, ev.Text)
	default:
		fmt.Fprintf(t.w, "* %s\n", ev.Text)
	}
}
