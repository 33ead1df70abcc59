package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/ragingest/internal/api"
	"github.com/dgallion1/ragingest/internal/metrics"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Start the HTTP API that accepts ingestion runs, merges posted fragments and exposes metrics.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg, os.Stdout)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)
		sinkStats := stats.NewSinkStats(time.Hour)

		snk, err := openSink(cfg, log)
		if err != nil {
			return err
		}
		defer closeSink(snk, log)

		orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			MaxConcurrentRuns: cfg.MaxConcurrentRuns,
			RunTTL:            cfg.RunTTL,
			Defaults:          cfg.PipelineConfig(),
		}, fileSource(cfg), snk, log, m, sinkStats)
		if err != nil {
			return err
		}
		orch.Start(ctx)

		srv := api.NewServer(orch, log, api.Options{
			APIKey:    cfg.APIKey,
			SinkStats: sinkStats,
			Sink:      snk,
			Gatherer:  reg,
		})
		httpServer := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      srv,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting ragingest", "port", cfg.Port, "sink", cfg.Sink)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			orch.Stop()
			return err
		case <-ctx.Done():
		}
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		orch.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
