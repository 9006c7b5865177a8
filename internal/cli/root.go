// Package cli implements the huntql command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/huntql/internal/metrics"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is set from LDFLAGS in cmd/huntql.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd(info).ExecuteContext(ctx); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "huntql",
		Short:        "Turn threat hunting questions into validated KQL queries.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Root().PersistentFlags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}
			if addr == "" {
				return nil
			}
			verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
			metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)
			return startMetricsServer(cmd.Context(), newLogger(verbose), addr)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.StringP("config", "c", "", "path to a YAML config file")
	flags.String("metrics-addr", "", "address for the prometheus metrics server (disabled when empty)")
	flags.String("provider", "", "llm provider: gemini, anthropic or ollama (overrides config)")
	flags.String("model", "", "llm model name (overrides config)")
	flags.Int("max-retries", 0, "repair attempts per session (overrides config)")

	rootCmd.AddCommand(
		NewGenerateCmd().Command(),
		NewBatchCmd().Command(),
		NewDemoCmd().Command(),
		NewCheckCmd().Command(),
		NewSourcesCmd().Command(),
		NewHistoryCmd().Command(),
		NewServeCmd(info).Command(),
		newVersionCmd(info),
	)
	return rootCmd
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "version: %s, commit: %s, date: %s\n", info.Version, info.Commit, info.Date)
			return err
		},
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// startMetricsServer serves /metrics until ctx ends.
func startMetricsServer(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve prometheus metrics", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return nil
}
