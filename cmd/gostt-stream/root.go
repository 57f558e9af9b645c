package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/chaz8081/gostt-stream/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string

	// Set by the root command before any subcommand runs.
	cfg        *config.Config
	logger     *slog.Logger
	appMetrics *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "gostt-stream",
	Short: "Stream audio to a transcription service in overlapping chunks",
	Long: `gostt-stream cuts audio into overlapping chunks, sends each chunk over
a persistent websocket to a transcription service, and merges the per-chunk
transcripts as they arrive, in any order, into one transcript.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file (default: ~/.config/gostt-stream/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(transcribeCmd, playCmd, recordCmd, mockServerCmd, configCmd)
}

// setup loads configuration, installs the logger and starts the metrics
// endpoint. Flags override the environment, which overrides the file.
func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	c, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.ApplyEnv()
	if logLevel != "" {
		c.LogLevel = strings.ToLower(logLevel)
	}
	if metricsAddr != "" {
		c.Metrics.Addr = metricsAddr
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	cfg = c

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	appMetrics = metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Addr != "" {
		serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		c, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return c, nil
	}
	return config.Default(), nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}

// printBanner displays the startup configuration summary.
func printBanner(w io.Writer, mode string) {
	fmt.Fprintln(w, "=== gostt-stream ===")
	fmt.Fprintf(w, "  Server:  %s\n", cfg.Server.URL)
	fmt.Fprintf(w, "  Chunks:  %gs every %gs\n", cfg.Audio.ChunkDuration, cfg.Audio.StepDuration)
	fmt.Fprintf(w, "  Trigger: %s\n", mode)
	fmt.Fprintf(w, "  Merge:   %s debounce\n", cfg.Reconcile.Debounce)
	fmt.Fprintf(w, "  Log:     %s\n", cfg.LogLevel)
	fmt.Fprintln(w, "====================")
}
