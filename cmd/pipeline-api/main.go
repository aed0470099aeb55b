package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "amplicon-pipeline/docs"
	"amplicon-pipeline/internal/api"
	"amplicon-pipeline/internal/api/handler"
	"amplicon-pipeline/internal/logging"
	"amplicon-pipeline/internal/store"
	"amplicon-pipeline/pkg/router"
)

// @title Amplicon Pipeline API
// @version 1.0
// @description Read-only access to amplicon pipeline runs: status, stage progress, read-count ledger and artifacts.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	var dbPath, addr string
	var verbose bool
	cmd := &cobra.Command{
		Use:           "pipeline-api",
		Short:         "Serve run history from a pipeline run store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := zapcore.InfoLevel
			if verbose {
				level = zapcore.DebugLevel
			}
			logger := logging.NewConsole(level)
			defer logger.Sync()

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			r := router.New(logger)
			api.RegisterRoutes(r, handler.New(st, logger))
			logger.Info("serving run store", zap.String("store", dbPath))
			return r.Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&dbPath, "store", "pipeline_output/pipeline.db", "run store database")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
