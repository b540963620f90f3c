// Package inspect prints small samples and counts of table assets.
package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"leafprep/internal/ee"
)

// DefaultSampleSize is how many features Sample prints when limit is not set.
const DefaultSampleSize = 2

// Client evaluates expressions.
type Client interface {
	ComputeValue(ctx context.Context, expr ee.Expr, out interface{}) error
	ComputeFeatures(ctx context.Context, collection ee.Expr, pageSize int) ([]json.RawMessage, error)
}

// Sample writes the first limit features of fc as indented JSON.
func Sample(ctx context.Context, client Client, w io.Writer, fc ee.FeatureCollection, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultSampleSize
	}
	features, err := client.ComputeFeatures(ctx, fc.Limit(limit), limit)
	if err != nil {
		return 0, err
	}
	if len(features) > limit {
		features = features[:limit]
	}
	for i, f := range features {
		var buf bytes.Buffer
		if err := json.Indent(&buf, f, "", "  "); err != nil {
			return i, fmt.Errorf("feature %d: %w", i, err)
		}
		if _, err := fmt.Fprintf(w, "Feature %d:\n%s\n", i+1, buf.String()); err != nil {
			return i, err
		}
	}
	return len(features), nil
}

// Count returns the number of features in fc.
func Count(ctx context.Context, client Client, fc ee.FeatureCollection) (int, error) {
	var n int
	if err := client.ComputeValue(ctx, fc.Size(), &n); err != nil {
		return 0, err
	}
	return n, nil
}
