package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"leafprep/internal/config"
)

var initForce bool

// initCmd writes the default configuration.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes the default configuration to --config (.leafprep/config.yaml).

The defaults describe the Alberta datasets, the sources ingested from them,
the well-site pipeline and the sampler batches. Set earth_engine.project and
assets.root (or EE_PROJECT and LEAFPREP_ASSET_ROOT) before running anything
that talks to Earth Engine.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	def := config.DefaultConfig()
	if cfg != nil {
		def.EarthEngine.Project = cfg.EarthEngine.Project
		def.Assets.Root = cfg.Assets.Root
	}
	if err := def.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}
