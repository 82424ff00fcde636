package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProfile    string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading
// themselves (e.g. `config init`, which must run before a config file
// exists).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config and logger. Created once in
// PersistentPreRunE; every RunE handler reads it back off the command's
// context rather than re-resolving config itself.
type CLIContext struct {
	Profile *config.ResolvedProfile
	Config  *config.Config
	Logger  *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require config (no
// skipConfigAnnotation) — the command tree guarantees it was populated by
// PersistentPreRunE before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command does not skip config loading but RunE ran before PersistentPreRunE populated it")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "treesync",
		Short:   "Bidirectional local/cloud tree sync and diff engine",
		Long:    "treesync compares a local filesystem tree against a Google-Drive-like cloud tree, categorizes differences, and stages reversible mutations that converge them.",
		Version: version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile to operate against")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in the command's context for use
// by subcommands.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Profile:    flagProfile,
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving config",
		slog.String("config_path", cli.ConfigPath),
		slog.String("cli_profile", cli.Profile),
		slog.String("env_config", env.ConfigPath),
		slog.String("env_profile", env.Profile),
	)

	resolved, cfg, err := config.ResolveConfig(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(resolved)
	cc := &CLIContext{Profile: resolved, Config: cfg, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	config.WarnUnimplemented(resolved, finalLogger)

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Pass nil for pre-config bootstrap. Config-file log level
// provides the baseline; --verbose/--debug/--quiet override it since CLI
// flags always win (enforced mutually exclusive by Cobra).
func buildLogger(rp *config.ResolvedProfile) *slog.Logger {
	level := slog.LevelWarn

	if rp != nil {
		switch rp.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	handler := buildLogHandler(rp, level)

	return slog.New(handler)
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
