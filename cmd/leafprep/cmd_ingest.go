package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leafprep/internal/ingest"
	"leafprep/internal/tasks"
)

var (
	ingestAsset string
	ingestWait  bool
)

// ingestCmd uploads one configured source as a table asset.
var ingestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: "Read, clean and upload a local source as a table asset",
	Long: `Reads a configured source (file geodatabase layer, shapefile or GeoJSON),
reprojects it to longitude/latitude, cleans the column names, applies the
source's filter and column rules, and uploads it to <assets.root>/<source>.

Tables too large for one request are uploaded in batches and merged. When
staging.bucket is set the table is written to Cloud Storage as CSV and
imported from there instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAsset, "asset", "", "Destination asset (default <assets.root>/<source>)")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "Wait for the upload task to finish")
}

func runIngest(cmd *cobra.Command, args []string) (err error) {
	src, ok := cfg.Source(args[0])
	if !ok {
		return fmt.Errorf("unknown source %q", args[0])
	}
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(commandName("ingest", args[0]))
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	uploader, closeUploader, err := newUploader(ctx, s.client, s.tracker)
	if err != nil {
		return err
	}
	defer closeUploader()

	table, err := ingest.Load(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("Read %d feature(s) from %s (%d column(s))\n", table.Len(), src.Name, len(table.Columns))

	id := ingestAsset
	if id == "" {
		id = src.Name
	}
	id = cfg.AssetID(id)
	if err := uploader.Upload(ctx, id, table); err != nil {
		return fmt.Errorf("failed to upload %s: %w", src.Name, err)
	}

	if !ingestWait {
		printTasks(s.tracker.Tasks())
		return nil
	}
	if err := s.tracker.WaitFor(ctx, id); err != nil {
		return err
	}
	fmt.Printf("%s ready\n", id)
	return nil
}

// newUploader builds the uploader, staging through Cloud Storage when a
// bucket is configured. The returned func releases the stager.
func newUploader(ctx context.Context, client ingest.Client, tracker *tasks.Tracker) (*ingest.Uploader, func(), error) {
	if cfg.Staging.Bucket == "" {
		return ingest.NewUploader(client, tracker, cfg.EarthEngine.PayloadLimitBytes), func() {}, nil
	}
	stager, err := ingest.NewGCSStager(ctx, cfg.Staging.Bucket, cfg.EarthEngine.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Staging uploads", zap.String("bucket", cfg.Staging.Bucket), zap.String("prefix", cfg.Staging.Prefix))
	u := ingest.NewUploader(client, tracker, cfg.EarthEngine.PayloadLimitBytes,
		ingest.WithStager(stager, cfg.Staging.Prefix))
	return u, func() {
		if err := stager.Close(); err != nil {
			logger.Warn("Failed to close storage client", zap.Error(err))
		}
	}, nil
}

func printTasks(list []tasks.Task) {
	if len(list) == 0 {
		fmt.Println("No tasks started.")
		return
	}
	fmt.Printf("Started %d task(s):\n", len(list))
	for _, t := range list {
		fmt.Printf("  %s  %s  %s\n", tasks.StateStyle(t.State), t.Description, t.AssetID)
	}
	fmt.Println("Use `leafprep tasks wait` to wait for them.")
}
