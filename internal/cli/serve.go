package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/handoff/internal/gateway"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/pubsub"
	"github.com/soyeahso/handoff/internal/store"
	"github.com/soyeahso/handoff/internal/token"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the handoff relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log = logging.NewWithOptions(logging.Options{
				Level:      level,
				Style:      cfg.Logging.ConsoleStyle,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
			})

			issuer, err := token.NewIssuer(cfg.Token.Secret, cfg.Token.TTL())
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Store.Driver != "postgres" {
				if err := paths.EnsureDirs(); err != nil {
					return fmt.Errorf("creating data directories: %w", err)
				}
			}
			db, err := store.Open(ctx, cfg.Store, paths.SessionDB(), log)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer db.Close()

			broker, err := pubsub.New(cfg.PubSub, log)
			if err != nil {
				return err
			}
			if err := broker.Connect(ctx); err != nil {
				return fmt.Errorf("connecting pubsub: %w", err)
			}
			defer broker.Close()

			srv, err := gateway.New(cfg, log,
				gateway.WithSessions(store.NewSessionStore(db)),
				gateway.WithBroker(broker),
				gateway.WithIssuer(issuer),
			)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
