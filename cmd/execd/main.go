// Package main provides the CLI entry point for the execd execution
// kernel.
//
// Start the kernel:
//
//	execd serve --config execd.yaml
//
// Check a running kernel:
//
//	execd status --addr http://127.0.0.1:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/internal/kernel"
	"github.com/haasonsaas/execd/internal/observability"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "execd",
		Short:   "execd - agent code execution kernel",
		Long:    "execd runs agent-submitted code in sandboxed runtimes,\nmediating every tool call through policy and human approval.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildValidateCmd())
	rootCmd.AddCommand(buildStatusCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the execution kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: os.Stderr,
			})

			k, err := kernel.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := k.Start(cmd.Context()); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-stop:
				logger.Info("shutting down", "signal", sig.String())
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return k.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "execd.yaml", "path to the config file")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without starting the kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "execd.yaml", "path to the config file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the health of a running kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + "/healthz")
			if err != nil {
				return fmt.Errorf("kernel unreachable: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("kernel unhealthy: status %d: %s", resp.StatusCode, body)
			}

			var health map[string]any
			if err := json.Unmarshal(body, &health); err != nil {
				return fmt.Errorf("malformed health response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kernel at %s: %v\n", addr, health["status"])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "kernel base URL")
	return cmd
}
