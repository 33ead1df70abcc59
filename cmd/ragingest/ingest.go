package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/stats"
	"github.com/spf13/cobra"
)

var (
	ingestBatchSize     int
	ingestQueueCapacity int
	ingestStrict        bool
)

// errRunFailed makes the process exit non-zero without printing a usage hint.
var errRunFailed = errors.New("ingest finished with failures")

var ingestCmd = &cobra.Command{
	Use:   "ingest [source-dir]",
	Short: "Run one ingestion pass over a directory",
	Long: `Run one ingestion pass over a directory and print a summary.

The directory defaults to source_dir from the configuration. With --strict the
command exits 1 when any file or batch failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg, os.Stderr)

		pcfg := cfg.PipelineConfig()
		if len(args) == 1 {
			pcfg.SourceDir = args[0]
		}
		if ingestBatchSize > 0 {
			pcfg.BatchSize = ingestBatchSize
		}
		if ingestQueueCapacity > 0 {
			pcfg.QueueCapacity = ingestQueueCapacity
		}

		snk, err := openSink(cfg, log)
		if err != nil {
			return err
		}
		defer closeSink(snk, log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sinkStats := stats.NewSinkStats(0)
		report, runErr := pipeline.Run(ctx, pcfg, fileSource(cfg), snk,
			pipeline.WithLogger(log),
			pipeline.WithSinkStats(sinkStats),
		)
		FormatReport(cmd.OutOrStdout(), pcfg.SourceDir, cfg.Sink, report, sinkStats.Snapshot(), runErr)

		if runErr != nil {
			return runErr
		}
		if ingestStrict && report.Failed() {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestBatchSize, "batch-size", "b", 0, "Fragments per sink insert (0 = config value)")
	ingestCmd.Flags().IntVarP(&ingestQueueCapacity, "queue-capacity", "q", 0, "Batches buffered between parser and sink (0 = config value)")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "Exit 1 when any file or batch failed")

	rootCmd.AddCommand(ingestCmd)
}
