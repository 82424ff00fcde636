package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/treesync/treesync/internal/config"
)

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits on the second, giving the engine time to
// drain an in-flight op before a forced quit.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// reloadOnSIGHUP re-resolves the active profile from disk on every SIGHUP
// and publishes it through holder. apply, when non-nil, runs after each
// successful reload with the fresh profile so a long-running command can
// push the new settings into already-constructed components. A failed
// reload keeps the previous settings and logs the error.
func reloadOnSIGHUP(ctx context.Context, holder *config.Holder, apply func(*config.ResolvedProfile), logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
			}

			cli := config.CLIOverrides{ConfigPath: flagConfigPath, Profile: flagProfile}

			resolved, _, err := config.ResolveConfig(config.ReadEnvOverrides(), cli, logger)
			if err != nil {
				logger.Error("config reload failed, keeping previous settings",
					slog.String("path", holder.Path()), slog.Any("error", err))

				continue
			}

			holder.Update(resolved)
			logger.Info("config reloaded", slog.String("path", holder.Path()))

			if apply != nil {
				apply(resolved)
			}
		}
	}()
}
