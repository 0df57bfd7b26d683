// Package cli implements the invoicely command line: the desktop-side view of
// entitlements, backed by the on-device store as cache and migration source.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoicely/internal/app"
	"invoicely/internal/config"
	"invoicely/internal/entitlement"
	"invoicely/internal/localstore"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// state is shared by every subcommand of one invocation.
type state struct {
	out     io.Writer
	dataDir string
	userID  string
	output  string

	cfg    *config.Config
	logger *slog.Logger
	local  *localstore.Store
	app    *app.App
}

// Execute runs the root command against os.Args.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := &state{out: os.Stdout}
	defer st.close()
	return newRootCmd(st).ExecuteContext(ctx)
}

func newRootCmd(st *state) *cobra.Command {
	root := &cobra.Command{
		Use:   "invoicely",
		Short: "Invoicely entitlement and quota tools",
		Long: `invoicely shows the signed-in user's plan and invoice quota, records
invoice creations against the monthly free allowance, and migrates invoices
created on this device before sign-in to the cloud account.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetOut(st.out)
	root.PersistentFlags().StringVar(&st.dataDir, "data-dir", "", "local data directory (default $LOCAL_DATA_DIR)")
	root.PersistentFlags().StringVarP(&st.userID, "user", "u", os.Getenv("INVOICELY_USER_ID"), "user ID (default $INVOICELY_USER_ID)")
	root.PersistentFlags().StringVarP(&st.output, "output", "o", outputText, "output format: text, json")

	root.AddCommand(newStatusCmd(st))
	root.AddCommand(newProCmd(st))
	root.AddCommand(newRemainingCmd(st))
	root.AddCommand(newCanCreateCmd(st))
	root.AddCommand(newRecordCmd(st))
	root.AddCommand(newMigrateCmd(st))
	root.AddCommand(newRecheckCmd(st))
	root.AddCommand(newLocalCmd(st))
	root.AddCommand(newTokenCmd(st))
	return root
}

func (st *state) init() error {
	if st.output != outputText && st.output != outputJSON {
		return fmt.Errorf("unknown output format %q", st.output)
	}
	if st.cfg != nil {
		return nil
	}
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	st.cfg = cfg
	st.logger = newLogger(cfg.LogLevel)
	if st.dataDir == "" {
		st.dataDir = cfg.Local.DataDir
	}
	return nil
}

// localStore opens the device store on first use.
func (st *state) localStore() (*localstore.Store, error) {
	if st.local != nil {
		return st.local, nil
	}
	s, err := localstore.Open(st.dataDir, st.logger)
	if err != nil {
		return nil, err
	}
	st.local = s
	return s, nil
}

// service assembles the entitlement service with the device store as both
// cache and migration source.
func (st *state) service(ctx context.Context) (*entitlement.Service, error) {
	if st.app != nil {
		return st.app.Service, nil
	}
	local, err := st.localStore()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, st.cfg, st.logger, app.Options{Cache: local, Source: local})
	if err != nil {
		return nil, err
	}
	st.app = a
	return a.Service, nil
}

func (st *state) requireUser() (string, error) {
	if st.userID == "" {
		return "", errors.New("a user is required: pass --user or set INVOICELY_USER_ID")
	}
	return st.userID, nil
}

func (st *state) close() {
	if st.app != nil {
		if err := st.app.Close(); err != nil && st.logger != nil {
			st.logger.Warn("failed to close cloud store", "error", err)
		}
	}
	if st.local != nil {
		if err := st.local.Close(); err != nil && st.logger != nil {
			st.logger.Warn("failed to close local store", "error", err)
		}
	}
}

// print writes v as indented JSON, or text via the supplied renderer.
func (st *state) print(v any, text func(w io.Writer)) error {
	if st.output == outputJSON {
		enc := json.NewEncoder(st.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(st.out)
	return nil
}

// newLogger writes to stderr so command output stays machine-readable.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
