package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dgallion1/ragingest/internal/config"
	"github.com/dgallion1/ragingest/internal/embed"
	"github.com/dgallion1/ragingest/internal/parser"
	"github.com/dgallion1/ragingest/internal/sink"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "ragingest",
	Short: "Parse documents into hierarchy-merged fragments and load them into a store",
	Long: `ragingest walks a source directory, parses each document into headings and
body blocks, folds the body text under its heading path, and delivers the
result in fixed-size batches to a pathstore, qdrant, chromem or badger sink.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (json, text)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies the persistent flag overrides on top of config.Load.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openSink builds the configured sink and, for vector sinks, its embedder.
func openSink(cfg config.Config, log *slog.Logger) (sink.Sink, error) {
	var emb embed.Embedder
	if sink.NeedsEmbedder(cfg.Sink) {
		e, err := embed.NewOpenAIEmbedder(cfg.EmbedConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		emb = e
	}
	return sink.New(cfg.SinkConfig(), emb, log)
}

func closeSink(s sink.Sink, log *slog.Logger) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("close sink", "error", err)
		}
	}
}

func fileSource(cfg config.Config) parser.FileSource {
	return parser.FileSource{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}
}
