package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"leafprep/internal/ee"
	"leafprep/internal/inspect"
)

var inspectLimit int

// inspectCmd groups read-only table inspection.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print samples and counts of table assets",
}

var inspectSampleCmd = &cobra.Command{
	Use:   "sample <asset>",
	Short: "Print the first features of a table asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectSample,
}

var inspectCountCmd = &cobra.Command{
	Use:   "count <asset>",
	Short: "Print the number of features in a table asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectCount,
}

func init() {
	inspectSampleCmd.Flags().IntVarP(&inspectLimit, "limit", "n", inspect.DefaultSampleSize, "Features to print")
}

func runInspectSample(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	id := cfg.AssetID(args[0])
	n, err := inspect.Sample(ctx, client, os.Stdout, ee.LoadTable(id), inspectLimit)
	if err != nil {
		return fmt.Errorf("failed to sample %s: %w", id, err)
	}
	if n == 0 {
		fmt.Printf("%s has no features\n", id)
	}
	return nil
}

func runInspectCount(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	id := cfg.AssetID(args[0])
	n, err := inspect.Count(ctx, client, ee.LoadTable(id))
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", id, err)
	}
	fmt.Printf("%s: %s feature(s)\n", id, humanize.Comma(int64(n)))
	return nil
}
