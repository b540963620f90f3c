package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leafprep/internal/config"
	"leafprep/internal/download"
)

var (
	downloadForce      bool
	downloadNoProgress bool
)

// downloadCmd fetches the configured datasets.
var downloadCmd = &cobra.Command{
	Use:   "download [dataset...]",
	Short: "Download and extract the source datasets",
	Long: `Downloads the configured dataset archives into data.download_dir and
extracts zip archives next to them. Archives already on disk are skipped
unless --force is given. With no arguments every dataset is fetched.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadForce, "force", false, "Download archives that already exist")
	downloadCmd.Flags().BoolVar(&downloadNoProgress, "no-progress", false, "Disable progress bars")
}

func runDownload(cmd *cobra.Command, args []string) error {
	datasets, err := selectDatasets(cfg.Datasets, args)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	opts := download.Options{
		Dir:         cfg.Data.DownloadDir,
		Concurrency: cfg.Data.DownloadConcurrency,
		Force:       downloadForce,
	}
	var results []download.Result
	if downloadNoProgress || !isTerminal(os.Stdout) {
		results, err = download.New(opts).FetchAll(ctx, datasets)
	} else {
		results, err = download.Run(ctx, opts, datasets)
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Printf("  %s: %s already present\n", r.Dataset.Name, r.Archive)
		default:
			fmt.Printf("  %s: %s (%s)\n", r.Dataset.Name, r.Archive, humanize.Bytes(uint64(r.Bytes)))
		}
		if len(r.Extracted) > 0 {
			logger.Debug("Extracted", zap.String("dataset", r.Dataset.Name), zap.Int("files", len(r.Extracted)))
		}
	}
	fmt.Printf("%d dataset(s) ready in %s\n", len(results), cfg.Data.DownloadDir)
	return nil
}

func selectDatasets(all []config.DatasetConfig, names []string) ([]download.Dataset, error) {
	byName := make(map[string]config.DatasetConfig, len(all))
	for _, d := range all {
		byName[d.Name] = d
	}
	if len(names) == 0 {
		out := make([]download.Dataset, 0, len(all))
		for _, d := range all {
			out = append(out, download.Dataset{Name: d.Name, URL: d.URL})
		}
		return out, nil
	}
	out := make([]download.Dataset, 0, len(names))
	for _, n := range names {
		d, ok := byName[n]
		if !ok {
			known := make([]string, 0, len(all))
			for _, a := range all {
				known = append(known, a.Name)
			}
			return nil, fmt.Errorf("unknown dataset %q (known: %s)", n, strings.Join(known, ", "))
		}
		out = append(out, download.Dataset{Name: d.Name, URL: d.URL})
	}
	return out, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
