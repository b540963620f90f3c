package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"leafprep/internal/sampler"
)

// samplerCmd groups the sampler batch commands.
var samplerCmd = &cobra.Command{
	Use:   "sampler",
	Short: "Prepare and clean up LEAF sampler batches",
}

var samplerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Export the sample in fixed-size batches per image collection",
	Long: `Splits sampler.source into batches of sampler.batch_size features and exports
each as <batch_prefix>_<label>_<start> for every configured image collection.
A manifest is written to data.output_dir once a batch finishes; batches
with a manifest are skipped on the next run.`,
	Args: cobra.NoArgs,
	RunE: runSamplerRun,
}

var samplerCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the temporary batch assets",
	Args:  cobra.NoArgs,
	RunE:  runSamplerCleanup,
}

func runSamplerRun(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession("sampler run")
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	manifests, err := sampler.New(cfg, s.client, s.tracker).Run(ctx)
	for _, m := range manifests {
		fmt.Printf("  %-5s %6d  %4d feature(s)  %s\n", m.Label, m.Start, m.Features, m.Asset)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d batch(es) ready\n", len(manifests))
	return nil
}

func runSamplerCleanup(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession("sampler cleanup")
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	deleted, err := sampler.New(cfg, s.client, s.tracker).Cleanup(ctx)
	for _, id := range deleted {
		fmt.Printf("  deleted %s\n", id)
	}
	fmt.Printf("Deleted %d batch asset(s)\n", len(deleted))
	return err
}
