package main

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"leafprep/internal/assets"
	"leafprep/internal/logging"
)

var (
	assetsCleanupPattern string
	assetsCleanupPrefix  string
	assetsCleanupFrom    int
	assetsCleanupTo      int
	assetsCleanupStep    int
	assetsOrganizeParent string
)

// assetsCmd groups asset housekeeping commands. Relative ids resolve against
// assets.root.
var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List, create, move and delete Earth Engine assets",
}

var assetsLsCmd = &cobra.Command{
	Use:   "ls [folder]",
	Short: "List the assets in a folder (default assets.root)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAssetsLs,
}

var assetsExistsCmd = &cobra.Command{
	Use:   "exists <asset>",
	Short: "Report whether an asset exists",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsExists,
}

var assetsMkdirCmd = &cobra.Command{
	Use:   "mkdir <folder>",
	Short: "Create a folder, tolerating one that exists",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsMkdir,
}

var assetsMvCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Move or rename an asset",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssetsMv,
}

var assetsRmCmd = &cobra.Command{
	Use:   "rm <asset...>",
	Short: "Delete assets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssetsRm,
}

var assetsOrganizeCmd = &cobra.Command{
	Use:   "organize <substring> <folder>",
	Short: "Move every asset whose name contains substring into folder",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssetsOrganize,
}

var assetsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete assets by name pattern or numbered range",
	Long: `Deletes every asset under assets.root whose name matches --pattern (a glob
such as temp_batch_*), or the numbered assets --prefix<i> for i from --from
up to --to stepping by --step. Failures are reported after the rest are
deleted.`,
	Args: cobra.NoArgs,
	RunE: runAssetsCleanup,
}

func init() {
	assetsOrganizeCmd.Flags().StringVar(&assetsOrganizeParent, "parent", "", "Folder to search (default assets.root)")

	assetsCleanupCmd.Flags().StringVar(&assetsCleanupPattern, "pattern", "", "Glob matched against asset names")
	assetsCleanupCmd.Flags().StringVar(&assetsCleanupPrefix, "prefix", "", "Numbered asset prefix")
	assetsCleanupCmd.Flags().IntVar(&assetsCleanupFrom, "from", 0, "First number (inclusive)")
	assetsCleanupCmd.Flags().IntVar(&assetsCleanupTo, "to", 0, "Last number (exclusive)")
	assetsCleanupCmd.Flags().IntVar(&assetsCleanupStep, "step", 1, "Number step")
}

func assetManager() (eeClient, *assets.Manager, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, assets.NewManager(client, nil), nil
}

func runAssetsLs(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, _, err := assetManager()
	if err != nil {
		return err
	}
	parent := cfg.Assets.Root
	if len(args) == 1 {
		parent = cfg.AssetID(args[0])
	}
	list, err := client.ListAssets(ctx, parent)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", parent, err)
	}
	for _, a := range list {
		size := "-"
		if n, err := strconv.ParseUint(a.SizeBytes, 10, 64); err == nil {
			size = humanize.Bytes(n)
		}
		fmt.Printf("  %-12s %10s  %s\n", a.Type, size, path.Base(a.Name))
	}
	fmt.Printf("%d asset(s) in %s\n", len(list), parent)
	return nil
}

func runAssetsExists(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	_, mgr, err := assetManager()
	if err != nil {
		return err
	}
	id := cfg.AssetID(args[0])
	if !mgr.Exists(ctx, id) {
		return fmt.Errorf("%s does not exist", id)
	}
	fmt.Printf("%s exists\n", id)
	return nil
}

func runAssetsMkdir(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	_, mgr, err := assetManager()
	if err != nil {
		return err
	}
	id := cfg.AssetID(args[0])
	if err := mgr.EnsureFolder(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Folder %s ready\n", id)
	return nil
}

func runAssetsMv(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, _, err := assetManager()
	if err != nil {
		return err
	}
	from, to := cfg.AssetID(args[0]), cfg.AssetID(args[1])
	_, err = client.MoveAsset(ctx, from, to)
	logging.Audit().AssetMove(from, to, err)
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", from, err)
	}
	fmt.Printf("Moved %s to %s\n", from, to)
	return nil
}

func runAssetsRm(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, _, err := assetManager()
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range args {
		id := cfg.AssetID(a)
		err := client.DeleteAsset(ctx, id)
		logging.Audit().AssetDelete(id, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		fmt.Printf("  deleted %s\n", id)
	}
	return errors.Join(errs...)
}

func runAssetsOrganize(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	_, mgr, err := assetManager()
	if err != nil {
		return err
	}
	parent := cfg.Assets.Root
	if assetsOrganizeParent != "" {
		parent = cfg.AssetID(assetsOrganizeParent)
	}
	moved, err := mgr.Organize(ctx, parent, args[0], cfg.AssetID(args[1]))
	fmt.Printf("Moved %d asset(s)\n", len(moved))
	return err
}

func runAssetsCleanup(cmd *cobra.Command, args []string) error {
	if (assetsCleanupPattern == "") == (assetsCleanupPrefix == "") {
		return fmt.Errorf("exactly one of --pattern or --prefix is required")
	}
	ctx, cancel := commandContext()
	defer cancel()
	_, mgr, err := assetManager()
	if err != nil {
		return err
	}

	var deleted []string
	if assetsCleanupPattern != "" {
		deleted, err = mgr.DeleteMatching(ctx, cfg.Assets.Root, assetsCleanupPattern)
	} else {
		deleted, err = mgr.DeleteRange(ctx, cfg.AssetID(assetsCleanupPrefix),
			assetsCleanupFrom, assetsCleanupTo, assetsCleanupStep)
	}
	for _, id := range deleted {
		fmt.Printf("  deleted %s\n", id)
	}
	fmt.Printf("Deleted %d asset(s)\n", len(deleted))
	return err
}
