// Package assets implements idempotent asset management on top of the Earth
// Engine client: existence checks, skip-if-exists exports, folder creation,
// and bulk move/delete of temporary batch assets.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"leafprep/internal/earthengine"
	"leafprep/internal/ee"
	"leafprep/internal/logging"
	"leafprep/internal/tasks"
)

// ErrMissing is returned by Require for absent assets.
var ErrMissing = errors.New("asset does not exist")

// Client is the subset of the Earth Engine client used here.
type Client interface {
	AssetExists(ctx context.Context, id string) bool
	ExportTable(ctx context.Context, collection ee.Expr, assetID, description string) (*earthengine.Operation, error)
	CreateFolder(ctx context.Context, id string) (*earthengine.Asset, error)
	ListAssets(ctx context.Context, parent string) ([]earthengine.Asset, error)
	MoveAsset(ctx context.Context, from, to string) (*earthengine.Asset, error)
	DeleteAsset(ctx context.Context, id string) error
}

// Manager wraps a Client. Exports it starts are added to its tracker.
type Manager struct {
	client  Client
	tracker *tasks.Tracker
}

// NewManager creates a Manager. tracker may be nil.
func NewManager(client Client, tracker *tasks.Tracker) *Manager {
	return &Manager{client: client, tracker: tracker}
}

// Tracker returns the tracker exports are added to.
func (m *Manager) Tracker() *tasks.Tracker { return m.tracker }

// Exists reports whether the asset exists. Lookup errors count as absence.
func (m *Manager) Exists(ctx context.Context, id string) bool {
	return m.client.AssetExists(ctx, id)
}

// Require returns the collection for an existing table asset.
func (m *Manager) Require(ctx context.Context, id string) (ee.FeatureCollection, error) {
	if !m.Exists(ctx, id) {
		return ee.FeatureCollection{}, fmt.Errorf("asset %s: %w", id, ErrMissing)
	}
	return ee.LoadTable(id), nil
}

// ExportIfNotExists exports collection to id unless the asset already exists
// or an export to it is already tracked and not failed. It returns nil when
// the export was skipped.
func (m *Manager) ExportIfNotExists(ctx context.Context, id string, collection ee.Expr, description string) (*earthengine.Operation, error) {
	if m.Exists(ctx, id) {
		logging.Assets("Asset %s already exists, skipping export", id)
		return nil, nil
	}
	if m.tracker != nil {
		if task, ok := m.tracker.ForAsset(id); ok && !task.Failed() {
			logging.Assets("Export to %s already in flight (%s), skipping", id, task.Operation)
			return nil, nil
		}
	}

	op, err := m.client.ExportTable(ctx, collection, id, description)
	if err != nil {
		logging.Audit().AssetExport(id, "", err)
		return nil, err
	}
	logging.Audit().AssetExport(id, op.Name, nil)
	if op.Metadata.Description == "" {
		op.Metadata.Description = description
	}
	logging.Assets("Exporting %s as %s", description, id)
	if m.tracker != nil {
		m.tracker.Add(op, id)
	}
	return op, nil
}

// EnsureFolder creates a folder, tolerating one that already exists.
func (m *Manager) EnsureFolder(ctx context.Context, id string) error {
	_, err := m.client.CreateFolder(ctx, id)
	if errors.Is(err, earthengine.ErrAlreadyExists) {
		logging.Assets("Folder %s already exists", id)
		return nil
	}
	logging.Audit().FolderCreate(id, err)
	if err != nil {
		return fmt.Errorf("failed to create folder %s: %w", id, err)
	}
	return nil
}

// Organize moves every asset directly under parent whose name contains
// substring into folder, creating the folder first. Move failures are
// logged and collected; the remaining assets are still moved.
func (m *Manager) Organize(ctx context.Context, parent, substring, folder string) ([]string, error) {
	if err := m.EnsureFolder(ctx, folder); err != nil {
		return nil, err
	}
	list, err := m.client.ListAssets(ctx, parent)
	if err != nil {
		return nil, err
	}

	var moved []string
	var errs []error
	for _, a := range list {
		base := path.Base(a.Name)
		if !strings.Contains(base, substring) || a.Name == earthengine.AssetName(folder) {
			continue
		}
		dst := strings.TrimSuffix(folder, "/") + "/" + base
		_, err := m.client.MoveAsset(ctx, a.Name, dst)
		logging.Audit().AssetMove(a.Name, dst, err)
		if err != nil {
			logging.AssetsWarn("Error moving %s: %v", base, err)
			errs = append(errs, fmt.Errorf("move %s: %w", base, err))
			continue
		}
		moved = append(moved, dst)
	}
	logging.Assets("Moved %d asset(s) matching %q into %s", len(moved), substring, folder)
	return moved, errors.Join(errs...)
}

// DeleteMatching deletes every asset directly under parent whose base name
// matches the glob pattern. Failures are collected, not fatal.
func (m *Manager) DeleteMatching(ctx context.Context, parent, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	list, err := m.client.ListAssets(ctx, parent)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range list {
		if ok, _ := path.Match(pattern, path.Base(a.Name)); ok {
			ids = append(ids, a.Name)
		}
	}
	return m.deleteAll(ctx, ids)
}

// DeleteRange deletes prefix+i for i in [from, to) stepping by step.
func (m *Manager) DeleteRange(ctx context.Context, prefix string, from, to, step int) ([]string, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", step)
	}
	var ids []string
	for i := from; i < to; i += step {
		ids = append(ids, prefix+strconv.Itoa(i))
	}
	return m.deleteAll(ctx, ids)
}

func (m *Manager) deleteAll(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		logging.Assets("Deleting asset: %s", id)
		err := m.client.DeleteAsset(ctx, id)
		logging.Audit().AssetDelete(id, err)
		if err != nil {
			logging.AssetsWarn("Failed to delete %s: %v", id, err)
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		deleted = append(deleted, id)
	}
	return deleted, errors.Join(errs...)
}
