package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"leafprep/internal/config"
	"leafprep/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "leafprep",
	Short: "Alberta well-site asset preparation for the LEAF sampler",
	Long: `leafprep downloads Alberta geospatial datasets, ingests them as Earth Engine
table assets and builds the chain of derived well assets the LEAF sampler
reads: intersection flags, filtered wells, a random sample, reference buffers
and dated versions of both.

Every step is idempotent: assets that already exist are skipped, and the
tasks each run starts are kept in a local ledger so they can be resumed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		settings := cfg.Logging.Settings()
		if verbose {
			settings.DebugMode = true
			settings.Level = "debug"
		}
		if err := logging.Initialize(cfg.Data.StateDir, settings); err != nil {
			logger.Warn("File logging disabled", zap.Error(err))
		}
		logging.Boot("Running %s with config %s", cmd.CommandPath(), configPath)
		logger.Debug("Configuration loaded", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 12*time.Hour, "Overall command timeout")

	pipelineCmd.AddCommand(pipelinePlanCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)

	samplerCmd.AddCommand(samplerRunCmd)
	samplerCmd.AddCommand(samplerCleanupCmd)

	assetsCmd.AddCommand(assetsLsCmd)
	assetsCmd.AddCommand(assetsExistsCmd)
	assetsCmd.AddCommand(assetsMkdirCmd)
	assetsCmd.AddCommand(assetsMvCmd)
	assetsCmd.AddCommand(assetsRmCmd)
	assetsCmd.AddCommand(assetsOrganizeCmd)
	assetsCmd.AddCommand(assetsCleanupCmd)

	tasksCmd.AddCommand(tasksStatusCmd)
	tasksCmd.AddCommand(tasksWaitCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
	tasksCmd.AddCommand(tasksWatchCmd)

	inspectCmd.AddCommand(inspectSampleCmd)
	inspectCmd.AddCommand(inspectCountCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(samplerCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(inspectCmd)
}

// execute runs the root command and always flushes the file logs, the audit
// log and the console logger, including when the command failed.
func execute() error {
	defer func() {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	return rootCmd.Execute()
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
