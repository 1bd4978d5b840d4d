package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ticketflow-cli/auth"
	"ticketflow-cli/config"
	"ticketflow-cli/devserver"
	"ticketflow-cli/service"
	"ticketflow-cli/store"
)

func newDevServerCmd(e *env) *cobra.Command {
	c := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local backend with generated shows",
		Long: `Run an in-memory backend that serves the HTTP API and live seat events.
Use --churn to simulate other customers booking seats.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mirror, _ := cmd.Flags().GetBool("redis-mirror")
			return runDevServer(cmd.Context(), e, mirror)
		},
	}
	config.AddServerFlags(c.PersistentFlags())
	c.AddCommand(newInitDBCmd(e), newTokenCmd(e))
	return c
}

func runDevServer(ctx context.Context, e *env, mirror bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := e.cfg
	inv := devserver.NewInventory()
	opts := devserver.Options{
		Tokens: e.parser(),
		Logger: e.logger,
	}

	if cfg.AMQPURL != "" {
		publisher, err := devserver.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts.Confirmations = publisher
	}
	if mirror {
		rdb := newRedis(cfg.Redis)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		m := devserver.NewRedisMirror(rdb, e.logger)
		inv.Observe(m)
		go m.Run(ctx)
	}

	srv := devserver.New(inv, opts)
	for _, show := range inv.Seed(cfg.Server.Shows, cfg.Server.SeatsPerShow) {
		e.logger.Info("show seeded", "show_id", show.Id, "name", show.Name, "seats", show.TotalSeats)
	}
	go devserver.Churn(ctx, inv, cfg.Server.Churn, e.logger)

	return srv.Run(ctx, cfg.Server.Addr)
}

func newInitDBCmd(e *env) *cobra.Command {
	var skipSeed bool
	c := &cobra.Command{
		Use:   "init-db",
		Short: "Create the Postgres schema and seed shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := e.cfg
			db, err := openDB(ctx, cfg, e.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			source := service.NewPostgresSource(db, e.logger)
			if err := source.EnsureSchema(ctx); err != nil {
				return err
			}
			if skipSeed {
				return nil
			}
			now := time.Now()
			for i := 0; i < cfg.Server.Shows; i++ {
				name, start := devserver.Scheduled(i, now)
				show, err := source.Seed(ctx, name, start, cfg.Server.SeatsPerShow)
				if err != nil {
					return fmt.Errorf("seed %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d seats\n", show.Id, show.Name, show.TotalSeats)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&skipSeed, "schema-only", false, "create the schema without seeding shows")
	return c
}

func newTokenCmd(e *env) *cobra.Command {
	var (
		user  string
		email string
		ttl   time.Duration
		save  bool
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.JWTSecret == "" {
				return errors.New("--jwt-secret is required")
			}
			userID := uuid.New()
			if user != "" {
				var err error
				if userID, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			token, err := auth.Mint([]byte(e.cfg.JWTSecret), userID, email, ttl)
			if err != nil {
				return err
			}
			if save {
				if err := store.SaveSession(token); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&user, "user", "", "user id (random when empty)")
	c.Flags().StringVar(&email, "email", "", "email claim")
	c.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	c.Flags().BoolVar(&save, "save", false, "also save the token as the current session")
	return c
}
