package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/kprof/prof"
	"github.com/inference-sim/kprof/prof/pipeline"
	"github.com/inference-sim/kprof/prof/report"
)

var (
	// CLI flags shared by the analysis commands
	dbPath        string // SQLite trace exported by the profiler
	configPath    string // Run configuration YAML
	logLevel      string // Log verbosity level
	gpu           string // GPU type for roofline classification
	hwConfigPath  string // JSON file of GPU peaks
	includeMemcpy bool   // Report memory copies alongside kernels

	// CLI flags for `analyze`
	format  string // Report format: jsonl or xlsx
	outPath string // Report destination; stdout when empty (jsonl only)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "kprof",
	Short: "Kernel-level attribution of GPU profiler traces",
}

// analyzeCmd writes the per-kernel report.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Attribute every kernel in a trace to its annotated operation",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		res := runPipeline(cmd)
		if err := writeReport(cmd.OutOrStdout(), res.Records); err != nil {
			logrus.Fatalf("Failed to write report: %v", err)
		}
		logrus.Infof("Analysis complete: %d records, %d malformed marker sequences", len(res.Records), res.Malformed)
	},
}

// summaryCmd prints per-operation totals.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print per-operation kernel counts, durations and costs",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		res := runPipeline(cmd)
		if err := printSummary(cmd.OutOrStdout(), report.Summarize(res.Records)); err != nil {
			logrus.Fatalf("Failed to print summary: %v", err)
		}
	},
}

// opsCmd lists the operations with a registered cost formula.
var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List operations with a registered cost formula",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range prof.DefaultRegistry.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// pipelineOptions merges the configuration file with flags; flags win when set.
func pipelineOptions(cmd *cobra.Command) (pipeline.Options, error) {
	if dbPath == "" {
		return pipeline.Options{}, fmt.Errorf("--db is required")
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return pipeline.Options{}, err
	}
	if cmd.Flags().Changed("hardware") {
		cfg.Hardware = gpu
	}
	if cmd.Flags().Changed("hardware-config") {
		cfg.HardwareFile = hwConfigPath
	}
	if cmd.Flags().Changed("include-memcpy") {
		cfg.IncludeMemcpy = includeMemcpy
	}
	env, err := cfg.CostEnv()
	if err != nil {
		return pipeline.Options{}, err
	}
	hw, err := cfg.HardwareCalib()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		DBPath:        dbPath,
		IncludeMemcpy: cfg.IncludeMemcpy,
		IgnoreMarkers: cfg.IgnoreMarkers,
		Env:           env,
		Hardware:      hw,
		Logger:        logrus.StandardLogger(),
	}, nil
}

func runPipeline(cmd *cobra.Command) *pipeline.Result {
	opts, err := pipelineOptions(cmd)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		logrus.Fatalf("Analysis failed: %v", err)
	}
	return res
}

func writeReport(stdout io.Writer, records []report.Record) error {
	switch format {
	case formatJSONL:
		if outPath == "" {
			return report.WriteJSONL(stdout, records)
		}
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := report.WriteJSONL(f, records); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case formatXLSX:
		if outPath == "" {
			return fmt.Errorf("--out is required for xlsx output")
		}
		return WriteReportXLSX(outPath, records)
	default:
		return fmt.Errorf("unknown format %q (want %s or %s)", format, formatJSONL, formatXLSX)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{analyzeCmd, summaryCmd} {
		c.Flags().StringVar(&dbPath, "db", "", "SQLite trace exported by the profiler")
		c.Flags().StringVar(&configPath, "config", "kprof.yaml", "Run configuration YAML (ignored when missing)")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&gpu, "hardware", "", "GPU type for compute/memory bound classification")
		c.Flags().StringVar(&hwConfigPath, "hardware-config", "", "JSON file of GPU peaks extending the built-in table")
		c.Flags().BoolVar(&includeMemcpy, "include-memcpy", false, "Report memory copies alongside kernels")
	}
	analyzeCmd.Flags().StringVar(&format, "format", formatJSONL, "Report format (jsonl, xlsx)")
	analyzeCmd.Flags().StringVar(&outPath, "out", "", "Report destination (stdout when empty)")

	rootCmd.AddCommand(analyzeCmd, summaryCmd, opsCmd)
}
