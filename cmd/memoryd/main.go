// Package main is the entry point for the memoryd service and its admin commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaobai0824/model-api/internal/app"
	"github.com/shaobai0824/model-api/internal/config"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memoryd",
		Short:         "Conversation memory service for the voice assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file (overrides APP_CONFIG_FILE)")
	root.AddCommand(serveCmd(), cleanupCmd(), usersCmd(), statsCmd(), chatCmd(), configCmd(), versionCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("APP_CONFIG_FILE", path); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

// build loads configuration and assembles the service for one command.
func build(cmd *cobra.Command) (*app.BuildResult, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return app.Build(cmd.Context(), cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API and the scheduled expiry sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					built.Logger.Error("cleanup failed", "error", err)
				}
			}()
			logger := built.Logger
			cfg := built.Config

			if built.Scheduler != nil {
				if err := built.Scheduler.Start(); err != nil {
					return err
				}
			}

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: built.API.Router(),
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", cfg.BindAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			var runErr error
			select {
			case sig := <-sigCh:
				logger.Info("shutdown signal received", "signal", sig.String())
			case err := <-serveErr:
				runErr = fmt.Errorf("listen error: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", "error", err)
				_ = httpServer.Close()
			}
			if built.Scheduler != nil {
				if err := built.Scheduler.Stop(shutdownCtx); err != nil {
					logger.Warn("scheduler stop timed out", "error", err)
				}
			}

			logger.Info("shutdown complete")
			return runErr
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete user memories idle longer than the configured expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := build(cmd)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			n, err := built.Service.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d user memories\n", n)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with a stored memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := build(cmd)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			users, err := built.Service.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range users {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Print a user's memory statistics as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := build(cmd)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			st, err := built.Service.GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <text>...",
		Short: "Run one text turn through the pipeline with the mock providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			built, err := build(cmd)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			turn, err := built.Pipeline.HandleText(cmd.Context(), userID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), turn.Reply)
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", "cli", "User id to record the turn under")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (backend=%s, bind=%s, sweep=%q)\n",
				cfg.MemoryBackend, cfg.BindAddr, cfg.SweepSchedule)
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memoryd %s (commit: %s)\n", version, commit)
		},
	}
}
