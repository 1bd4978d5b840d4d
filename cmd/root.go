// Package cmd is the ticketflow command tree.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ticketflow-cli/auth"
	"ticketflow-cli/config"
	"ticketflow-cli/logging"
	"ticketflow-cli/store"
	"ticketflow-cli/tui"
)

const appName = "ticketflow"

type BuildInfo struct {
	Version string
	Commit  string
}

// env is what every subcommand gets after flags are parsed.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	close  func()
}

func (e *env) Close() {
	if e.close != nil {
		e.close()
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute(info BuildInfo) {
	if err := NewRootCmd(info).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Pick and book seats from the terminal",
		Long:          `Browse shows, pick seats on a zoomable live seat map and book them, all from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, e)
		},
	}
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newShowsCmd(e),
		newSeatsCmd(e),
		newBookCmd(e),
		newBookingsCmd(e),
		newLoginCmd(e),
		newLogoutCmd(),
		newDevServerCmd(e),
		newVersionCmd(info),
	)
	return root
}

// load layers configuration under the parsed flags. The TUI logs to a file;
// every other command logs to stderr.
func (e *env) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.ApplyFlags(cmd.Flags(), &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Token == "" {
		token, err := store.LoadSession()
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		cfg.Token = token
	}
	e.cfg = cfg

	if cmd.Parent() == nil {
		logger, closeLog, err := logging.Open(cfg.LogFile, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		e.logger, e.close = logger, closeLog
		return nil
	}
	e.logger = logging.Text(cmd.ErrOrStderr(), cfg.LogLevel)
	return nil
}

// session signs in with the configured token. An unusable token leaves the
// session signed out rather than failing the command.
func (e *env) session() *auth.Session {
	session := auth.NewSession(e.parser())
	if e.cfg.Token == "" {
		return session
	}
	if _, err := session.SignIn(e.cfg.Token); err != nil {
		e.logger.Warn("stored session token rejected", "err", err)
	}
	return session
}

func (e *env) parser() auth.Parser {
	return auth.Parser{Secret: []byte(e.cfg.JWTSecret)}
}

func runTUI(cmd *cobra.Command, e *env) error {
	b, err := openBackend(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer b.Close()

	opts := tui.Options{
		Source:   b.source,
		Stream:   b.stream,
		Session:  e.session(),
		Viewport: e.cfg.Viewport,
		Logger:   e.logger,
	}
	if b.client != nil {
		opts.Authorize = b.client.SetToken
		if e.cfg.Source == "http" {
			opts.Shows = b.client
		}
	}

	_, err = tea.NewProgram(tui.New(opts), tea.WithAltScreen(), tea.WithMouseAllMotion()).Run()
	return err
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s", appName, info.Version)
			if info.Commit != "none" && info.Commit != "" {
				fmt.Fprintf(out, " (%s)", info.Commit)
			}
			fmt.Fprintln(out)
		},
	}
}
