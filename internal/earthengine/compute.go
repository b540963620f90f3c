package earthengine

import (
	"context"
	"encoding/json"
	"fmt"

	"leafprep/internal/ee"
)

// ComputeValue evaluates expr synchronously and decodes the result into out.
func (c *Client) ComputeValue(ctx context.Context, expr ee.Expr, out interface{}) error {
	encoded, err := ee.Encode(expr)
	if err != nil {
		return err
	}
	req := struct {
		Expression *ee.Expression `json:"expression"`
	}{encoded}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(ctx, "POST", c.projectPath()+"/value:compute", nil, req, &resp); err != nil {
		return fmt.Errorf("failed to compute value: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode computed value: %w", err)
	}
	return nil
}

// ComputeFeatures returns up to pageSize GeoJSON features of a collection.
func (c *Client) ComputeFeatures(ctx context.Context, collection ee.Expr, pageSize int) ([]json.RawMessage, error) {
	encoded, err := ee.Encode(collection)
	if err != nil {
		return nil, err
	}
	req := struct {
		Expression *ee.Expression `json:"expression"`
		PageSize   int            `json:"pageSize,omitempty"`
	}{encoded, pageSize}
	var resp struct {
		Features      []json.RawMessage `json:"features"`
		NextPageToken string            `json:"nextPageToken"`
	}
	if err := c.do(ctx, "POST", c.projectPath()+"/table:computeFeatures", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to compute features: %w", err)
	}
	if pageSize > 0 && len(resp.Features) > pageSize {
		resp.Features = resp.Features[:pageSize]
	}
	return resp.Features, nil
}
