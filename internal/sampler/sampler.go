// Package sampler prepares LEAF sampler input: it splits the dated sample
// into fixed-size batch assets, one set per image collection, and records a
// local manifest for every batch so reruns skip finished work.
package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"leafprep/internal/assets"
	"leafprep/internal/config"
	"leafprep/internal/ee"
	"leafprep/internal/logging"
	"leafprep/internal/tasks"
)

// Client is the Earth Engine surface the sampler needs.
type Client interface {
	assets.Client
	tasks.OperationGetter
	ComputeValue(ctx context.Context, expr ee.Expr, out interface{}) error
}

// Manifest records one exported batch.
type Manifest struct {
	Collection string    `json:"collection"`
	Label      string    `json:"label"`
	Start      int       `json:"start"`
	Asset      string    `json:"asset"`
	Features   int       `json:"features"`
	CreatedAt  time.Time `json:"created_at"`
}

// Preparer exports sampler batches.
type Preparer struct {
	cfg     *config.Config
	client  Client
	manager *assets.Manager
	tracker *tasks.Tracker
	now     func() time.Time
}

// New creates a Preparer. Batch exports are added to tracker.
func New(cfg *config.Config, client Client, tracker *tasks.Tracker) *Preparer {
	return &Preparer{
		cfg:     cfg,
		client:  client,
		manager: assets.NewManager(client, tracker),
		tracker: tracker,
		now:     time.Now,
	}
}

// ManifestPath is where the manifest of a batch is written.
func (p *Preparer) ManifestPath(label string, start int) string {
	return filepath.Join(p.cfg.Data.OutputDir, fmt.Sprintf("batch_%s_%d.json", label, start))
}

// BatchAsset is the asset id of a batch.
func (p *Preparer) BatchAsset(label string, start int) string {
	return p.cfg.AssetID(fmt.Sprintf("%s_%s_%d", p.cfg.Sampler.BatchPrefix, label, start))
}

// Run exports every batch of the source for every image collection. Batches
// with a manifest are skipped; the others are exported, waited for and
// recorded one at a time.
func (p *Preparer) Run(ctx context.Context) ([]Manifest, error) {
	sc := p.cfg.Sampler
	if sc.BatchSize <= 0 {
		return nil, fmt.Errorf("sampler batch_size must be positive, got %d", sc.BatchSize)
	}
	if err := os.MkdirAll(p.cfg.Data.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	src, err := p.manager.Require(ctx, p.cfg.AssetID(sc.Source))
	if err != nil {
		return nil, err
	}
	var size int
	if err := p.client.ComputeValue(ctx, src.Size(), &size); err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", sc.Source, err)
	}
	logging.Sampler("%s has %d feature(s); batches of %d", sc.Source, size, sc.BatchSize)

	var out []Manifest
	for _, ic := range sc.ImageCollections {
		for start := 0; start < size; start += sc.BatchSize {
			m, err := p.batch(ctx, src, ic, start, size)
			if err != nil {
				return out, fmt.Errorf("batch %s/%d: %w", ic.Label, start, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *Preparer) batch(ctx context.Context, src ee.FeatureCollection, ic config.ImageCollectionConfig, start, size int) (Manifest, error) {
	path := p.ManifestPath(ic.Label, start)
	if m, err := ReadManifest(path); err == nil {
		logging.Sampler("Batch %s/%d already prepared", ic.Label, start)
		return m, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Manifest{}, err
	}

	batchSize := p.cfg.Sampler.BatchSize
	id := p.BatchAsset(ic.Label, start)
	fc := ee.FromList(src.ToList(batchSize, start))
	desc := fmt.Sprintf("export_batch_%s_%d", ic.Label, start)
	if _, err := p.manager.ExportIfNotExists(ctx, id, fc, desc); err != nil {
		return Manifest{}, err
	}
	if err := p.tracker.WaitFor(ctx, id); err != nil {
		return Manifest{}, err
	}

	count := batchSize
	if size-start < count {
		count = size - start
	}
	m := Manifest{
		Collection: ic.Name,
		Label:      ic.Label,
		Start:      start,
		Asset:      id,
		Features:   count,
		CreatedAt:  p.now().UTC(),
	}
	if err := writeManifest(path, m); err != nil {
		return Manifest{}, err
	}
	logging.Sampler("Prepared batch %s/%d (%d features) as %s", ic.Label, start, count, id)
	return m, nil
}

// ReadManifest reads a batch manifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// Cleanup deletes every temporary batch asset under the asset root.
// Deletion failures are collected; the rest are still deleted.
func (p *Preparer) Cleanup(ctx context.Context) ([]string, error) {
	pattern := p.cfg.Sampler.BatchPrefix + "_*"
	deleted, err := p.manager.DeleteMatching(ctx, p.cfg.Assets.Root, pattern)
	logging.Sampler("Deleted %d batch asset(s) matching %s", len(deleted), pattern)
	return deleted, err
}
