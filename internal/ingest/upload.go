package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"leafprep/internal/assets"
	"leafprep/internal/earthengine"
	"leafprep/internal/ee"
	"leafprep/internal/logging"
	"leafprep/internal/tasks"
)

// requestOverhead is reserved in every export request for everything but the
// expression: asset id, description and the JSON envelope.
const requestOverhead = 4096

// Client is the Earth Engine surface the uploader needs.
type Client interface {
	assets.Client
	tasks.OperationGetter
	ImportTable(ctx context.Context, assetID string, uris []string) (*earthengine.Operation, error)
}

// Stager uploads a file somewhere Earth Engine can import from and returns
// its URI.
type Stager interface {
	Stage(ctx context.Context, object string, body io.Reader) (string, error)
}

// Uploader turns tables into table assets.
type Uploader struct {
	client  Client
	tracker *tasks.Tracker
	limit   int
	stager  Stager
	prefix  string
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithStager uploads tables as CSV through s and imports them instead of
// exporting inline features. Objects are written under prefix.
func WithStager(s Stager, prefix string) UploaderOption {
	return func(u *Uploader) {
		u.stager = s
		u.prefix = strings.Trim(prefix, "/")
	}
}

// NewUploader creates an Uploader. Single exports and imports are added to
// tracker; payloadLimit bounds the size of one export request.
func NewUploader(client Client, tracker *tasks.Tracker, payloadLimit int, opts ...UploaderOption) *Uploader {
	u := &Uploader{client: client, tracker: tracker, limit: payloadLimit}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload creates assetID from t unless it already exists. A table that fits
// in one request is exported and left running on the tracker. A larger table
// is exported as <asset>_batch_<n> assets, which are waited for, merged into
// assetID and moved into the <asset>_batches folder; Upload blocks until then.
func (u *Uploader) Upload(ctx context.Context, assetID string, t *Table) error {
	if u.client.AssetExists(ctx, assetID) {
		logging.Ingest("Asset %s already exists, skipping upload of %s", assetID, t.Name)
		return nil
	}
	if t.Len() == 0 {
		return fmt.Errorf("table %s has no features", t.Name)
	}
	if u.stager != nil {
		return u.importStaged(ctx, assetID, t)
	}

	features, err := toFeatures(t)
	if err != nil {
		return err
	}
	chunks, err := Chunk(features, u.limit-requestOverhead)
	if err != nil {
		return fmt.Errorf("failed to split %s: %w", t.Name, err)
	}
	base := path.Base(assetID)
	if len(chunks) == 1 {
		mgr := assets.NewManager(u.client, u.tracker)
		_, err := mgr.ExportIfNotExists(ctx, assetID, ee.FromFeatures(chunks[0]), "ingest_"+base)
		return err
	}
	return u.uploadBatches(ctx, assetID, chunks)
}

func (u *Uploader) uploadBatches(ctx context.Context, assetID string, chunks [][]ee.Feature) error {
	base := path.Base(assetID)
	logging.Ingest("Uploading %s in %d batches", base, len(chunks))

	sub := u.tracker.Child()
	mgr := assets.NewManager(u.client, sub)
	batches := make([]ee.FeatureCollection, len(chunks))
	for i, chunk := range chunks {
		id := fmt.Sprintf("%s_batch_%d", assetID, i+1)
		desc := fmt.Sprintf("ingest_%s_batch_%d", base, i+1)
		if _, err := mgr.ExportIfNotExists(ctx, id, ee.FromFeatures(chunk), desc); err != nil {
			return fmt.Errorf("failed to export batch %d of %s: %w", i+1, base, err)
		}
		batches[i] = ee.LoadTable(id)
	}
	if err := sub.Wait(ctx); err != nil {
		return err
	}

	if _, err := mgr.ExportIfNotExists(ctx, assetID, ee.MergeAll(batches), "ingest_"+base); err != nil {
		return fmt.Errorf("failed to export merged %s: %w", base, err)
	}
	if err := sub.Wait(ctx); err != nil {
		return err
	}

	folder := assetID + "_batches"
	if _, err := mgr.Organize(ctx, path.Dir(assetID), base+"_batch_", folder); err != nil {
		logging.Get(logging.CategoryIngest).Warn("Batches of %s not fully moved into %s: %v", base, folder, err)
	}
	return nil
}

func (u *Uploader) importStaged(ctx context.Context, assetID string, t *Table) error {
	if task, ok := u.tracker.ForAsset(assetID); ok && !task.Failed() {
		logging.Ingest("Import to %s already in flight, skipping", assetID)
		return nil
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return err
	}
	object := path.Base(assetID) + ".csv"
	if u.prefix != "" {
		object = u.prefix + "/" + object
	}
	uri, err := u.stager.Stage(ctx, object, &buf)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", t.Name, err)
	}
	op, err := u.client.ImportTable(ctx, assetID, []string{uri})
	if err != nil {
		logging.Audit().AssetImport(assetID, "", err)
		return err
	}
	logging.Audit().AssetImport(assetID, op.Name, nil)
	if op.Metadata.Description == "" {
		op.Metadata.Description = "import_" + path.Base(assetID)
	}
	logging.Ingest("Importing %s from %s", assetID, uri)
	u.tracker.Add(op, assetID)
	return nil
}

func toFeatures(t *Table) ([]ee.Feature, error) {
	out := make([]ee.Feature, len(t.Features))
	for i, f := range t.Features {
		geom, err := ee.GeometryFromGeoJSON(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%s: feature %d: %w", t.Name, i, err)
		}
		out[i] = ee.NewFeature(geom, f.Properties)
	}
	return out, nil
}

// Chunk splits features into groups whose encoded collection stays under
// limit bytes. A single feature over the limit is an error.
func Chunk(features []ee.Feature, limit int) ([][]ee.Feature, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("payload limit must be positive, got %d", limit)
	}
	var chunks [][]ee.Feature
	var current []ee.Feature
	size := 0
	for i, f := range features {
		n, err := ee.EncodedSize(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if n > limit {
			return nil, fmt.Errorf("feature %d encodes to %d bytes, over the %d byte limit", i, n, limit)
		}
		if size+n > limit && len(current) > 0 {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, f)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	// Per-feature sizes ignore the collection wrapper and longer value ids, so
	// verify each chunk and halve the ones that still do not fit.
	var out [][]ee.Feature
	for _, c := range chunks {
		split, err := fit(c, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, split...)
	}
	return out, nil
}

func fit(chunk []ee.Feature, limit int) ([][]ee.Feature, error) {
	n, err := ee.EncodedSize(ee.FromFeatures(chunk))
	if err != nil {
		return nil, err
	}
	if n <= limit {
		return [][]ee.Feature{chunk}, nil
	}
	if len(chunk) == 1 {
		return nil, fmt.Errorf("feature encodes to %d bytes, over the %d byte limit", n, limit)
	}
	mid := len(chunk) / 2
	left, err := fit(chunk[:mid], limit)
	if err != nil {
		return nil, err
	}
	right, err := fit(chunk[mid:], limit)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// WriteCSV writes t in the layout Earth Engine table import reads: one column
// per attribute plus a .geo column holding the GeoJSON geometry.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), t.Columns...), ".geo")
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, f := range t.Features {
		for i, c := range t.Columns {
			v := f.Properties[c]
			if v == nil {
				row[i] = ""
				continue
			}
			row[i] = textOf(v)
		}
		row[len(row)-1] = string(f.Geometry)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
