package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"amplicon-pipeline/internal/config"
	"amplicon-pipeline/internal/logging"
	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/pipeline"
	"amplicon-pipeline/internal/store"
	"amplicon-pipeline/internal/tool"
	"amplicon-pipeline/pkg/utils"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "amplicon-pipeline",
		Short:         "Amplicon sequencing pipeline: reads to taxonomic abundance tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(runCmd(), checkCmd(), statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func consoleLevel(cfg model.PipelineConfig) zapcore.Level {
	if verbose {
		return zapcore.DebugLevel
	}
	return logging.ParseLevel(cfg.LogLevel)
}

// loadConfig builds the resolved configuration from the config file and flags
func loadConfig(cmd *cobra.Command) (model.PipelineConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyFlags(&cfg, cmd.Flags()); err != nil {
		return cfg, err
	}
	return config.Resolve(cfg)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, resuming from existing outputs",
		RunE:  runPipeline,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := consoleLevel(cfg)
	logger, logPath, closeLog, err := logging.WithRunLog(logging.NewConsole(level), cfg.OutputDir, start, level)
	if err != nil {
		return err
	}
	defer closeLog()

	lookup := tool.NewLookup(cfg.Tools, cfg.ScriptDir)
	if err := lookup.Check(pipeline.RequiredTools(cfg)); err != nil {
		logger.Error("dependency check failed", zap.Error(err))
		return err
	}
	if err := config.Save(filepath.Join(cfg.OutputDir, "run_config.yaml"), cfg); err != nil {
		logger.Warn("save resolved config", zap.Error(err))
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer st.Close()

	adapter := tool.NewAdapter(tool.ExecRunner{}, lookup, logger,
		tool.WithTimeout(cfg.ToolTimeout),
		tool.WithPolicies(tool.NewPolicies(cfg.Retry)))
	orch := pipeline.New(cfg, adapter, pipeline.WithStore(st), pipeline.WithLogger(logger))
	logger.Info("pipeline starting", zap.String("run_id", orch.RunID()), zap.String("log_file", logPath))

	out, err := orch.Run(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s finished in %s\n", out.RunID, out.Duration.Round(time.Second))
	fmt.Fprintf(w, "  input reads:      %d\n", out.InputReads)
	fmt.Fprintf(w, "  classified reads: %d (%.1f%%)\n", out.ClassifiedRead, utils.Percent(out.ClassifiedRead, out.InputReads))
	fmt.Fprintf(w, "  taxa:             %d\n", out.Taxa)
	fmt.Fprintf(w, "  table:            %s\n", out.TablePath)
	fmt.Fprintf(w, "  taxonomy:         %s\n", out.TaxonomyPath)
	return nil
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and look up every required tool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			lookup := tool.NewLookup(cfg.Tools, cfg.ScriptDir)
			w := cmd.OutOrStdout()
			for _, t := range pipeline.RequiredTools(cfg) {
				fmt.Fprintf(w, "%-10s %s\n", t, lookup.Binary(t))
			}
			if err := lookup.Check(pipeline.RequiredTools(cfg)); err != nil {
				return err
			}
			fmt.Fprintln(w, "configuration ok")
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func statusCmd() *cobra.Command {
	var dbPath, runID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stage progress and the read ledger of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("run store %s: %w", dbPath, err)
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var run model.RunRecord
			if runID == "" {
				run, err = st.LatestRun()
			} else {
				run, err = st.GetRun(runID)
			}
			if errors.Is(err, sql.ErrNoRows) {
				return errors.New("no such run")
			}
			if err != nil {
				return err
			}
			return printStatus(cmd, st, run)
		},
	}
	cmd.Flags().StringVar(&dbPath, "store", filepath.Join("pipeline_output", "pipeline.db"), "run store database")
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	return cmd
}

func printStatus(cmd *cobra.Command, st *store.Store, run model.RunRecord) error {
	progress, err := st.GetStageProgress(run.ID)
	if err != nil {
		return err
	}
	ledger, err := st.GetLedger(run.ID)
	if err != nil {
		return err
	}
	runErrors, err := st.GetRunErrors(run.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s\t%s\tresumed=%t\n\n", run.ID, run.Status, run.Resumed)
	fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tFILES\tFAILED\tDETAIL")
	for _, m := range progress {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", m.Stage, m.Status, m.Duration.Round(time.Millisecond), m.Files, m.Failed, m.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STAGE\tBEFORE\tAFTER\tDELTA\tREASON")
	for _, e := range ledger {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", e.Stage, e.Before, e.After, e.Delta, e.Reason)
	}
	for _, e := range runErrors {
		fmt.Fprintf(w, "\nerror in %s: %s\n", e.Stage, e.Message)
	}
	return w.Flush()
}
