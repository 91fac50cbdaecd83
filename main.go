package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ManifestHub/ManifestHub/internal/cryptutil"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/orchestrator"
	"github.com/ManifestHub/ManifestHub/internal/serverlist"
)

func main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the root command the way the teacher's own
// NewRootCmd does: PersistentPreRunE wires up slog from a level flag,
// PersistentPostRunE tears down the server-list cache, flags bound
// directly onto the command the way the teacher binds theirs.
func NewRootCmd() *cobra.Command {
	var (
		cfg         orchestrator.EnvConfig
		keyB64      string
		logLevelStr = "info"
		debug       bool
		servers     *serverlist.Cache
	)

	c := &cobra.Command{
		Use:           "manifesthub [download|account]",
		Short:         "Harvest Steam depot manifests into a Git archive",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevelStr)); err != nil {
				return errors.Wrap(err, "parse log level")
			}
			if debug {
				lvl = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{
				Level: lvl,
			})))

			if len(args) == 1 {
				cfg.Mode = orchestrator.Mode(args[0])
			}
			cfg.InitDefaults()
			if err := orchestrator.LoadEnvOverlay(&cfg); err != nil {
				return errors.Wrap(err, "load environment overlay")
			}
			if keyB64 != "" {
				key, err := cryptutil.ParseKey(keyB64)
				if err != nil {
					return errors.Wrap(err, "parse AES key")
				}
				cfg.Key = key
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var err error
			servers, err = serverlist.Open(serverlist.DefaultPath())
			if err != nil {
				slog.Warn("opening CDN server list cache failed, continuing without it", "error", err)
				servers = nil
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if servers != nil {
				return servers.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := gitstore.Open(ctx, cfg.RepoDir, cfg.RemoteURL(), cfg.Token)
			if err != nil {
				return errors.Wrap(err, "open manifest repository")
			}
			return orchestrator.New(&cfg, store, servers, slog.Default()).Run(ctx)
		},
	}

	c.Flags().StringVarP(&cfg.AccountPath, "account", "a", "", "path to the account ingestion file (account mode)")
	c.Flags().StringVarP(&cfg.Token, "token", "t", "", "forge push token (required)")
	c.Flags().IntVarP(&cfg.ConcurrentAccount, "concurrent-account", "c", 4, "max concurrent Steam sessions")
	c.Flags().IntVarP(&cfg.ConcurrentManifest, "concurrent-manifest", "p", 16, "max concurrent manifest downloads per session")
	c.Flags().IntVarP(&cfg.Index, "index", "i", 0, "this instance's partition index (account mode)")
	c.Flags().IntVarP(&cfg.Number, "number", "n", 1, "total number of parallel instances (account mode)")
	c.Flags().StringVarP(&keyB64, "key", "k", "", "base64-encoded 32-byte AES key (required)")
	c.PersistentFlags().StringVarP(&logLevelStr, "log-level", "l", logLevelStr, "set the log level (debug|info|warn|error)")
	c.PersistentFlags().BoolVarP(&debug, "debug", "d", debug, "turn on debug mode")
	return c
}
