package earthengine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"leafprep/internal/ee"
	"leafprep/internal/logging"
)

// Operation states.
const (
	StatePending    = "PENDING"
	StateRunning    = "RUNNING"
	StateCancelling = "CANCELLING"
	StateSucceeded  = "SUCCEEDED"
	StateCancelled  = "CANCELLED"
	StateFailed     = "FAILED"
)

// IsTerminal reports whether an operation in state will never change again.
func IsTerminal(state string) bool {
	switch state {
	case StateSucceeded, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Operation is a long-running export or import task.
type Operation struct {
	Name     string            `json:"name"`
	Done     bool              `json:"done,omitempty"`
	Metadata OperationMetadata `json:"metadata"`
	Error    *APIError         `json:"error,omitempty"`
}

// OperationMetadata carries the task state.
type OperationMetadata struct {
	Type            string   `json:"type,omitempty"`
	State           string   `json:"state"`
	Description     string   `json:"description,omitempty"`
	CreateTime      string   `json:"createTime,omitempty"`
	UpdateTime      string   `json:"updateTime,omitempty"`
	StartTime       string   `json:"startTime,omitempty"`
	EndTime         string   `json:"endTime,omitempty"`
	Progress        float64  `json:"progress,omitempty"`
	DestinationURIs []string `json:"destinationUris,omitempty"`
}

// State returns the operation state, treating done operations without a
// state as SUCCEEDED or FAILED depending on Error.
func (op *Operation) State() string {
	if op.Metadata.State != "" {
		return op.Metadata.State
	}
	if op.Done {
		if op.Error != nil {
			return StateFailed
		}
		return StateSucceeded
	}
	return StatePending
}

// ExportTableRequest is the body of table:export.
type ExportTableRequest struct {
	Expression         *ee.Expression     `json:"expression"`
	Description        string             `json:"description,omitempty"`
	AssetExportOptions AssetExportOptions `json:"assetExportOptions"`
}

// AssetExportOptions names the destination asset.
type AssetExportOptions struct {
	EarthEngineDestination EarthEngineDestination `json:"earthEngineDestination"`
}

// EarthEngineDestination is an asset resource name.
type EarthEngineDestination struct {
	Name string `json:"name"`
}

// ExportTable starts exporting a feature collection to a table asset.
func (c *Client) ExportTable(ctx context.Context, collection ee.Expr, assetID, description string) (*Operation, error) {
	expr, err := ee.Encode(collection)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", description, err)
	}
	req := ExportTableRequest{
		Expression:  expr,
		Description: description,
		AssetExportOptions: AssetExportOptions{
			EarthEngineDestination: EarthEngineDestination{Name: AssetName(assetID)},
		},
	}
	var op Operation
	if err := c.do(ctx, "POST", c.projectPath()+"/table:export", nil, req, &op); err != nil {
		return nil, fmt.Errorf("failed to start export %s: %w", description, err)
	}
	logging.Tasks("Started export %s -> %s (%s)", description, assetID, op.Name)
	return &op, nil
}

// TableSource is one Cloud Storage file of a table import.
type TableSource struct {
	URIs                  []string `json:"uris"`
	CSVDelimiter          string   `json:"csvDelimiter,omitempty"`
	PrimaryGeometryColumn string   `json:"primaryGeometryColumn,omitempty"`
}

// TableManifest describes a table import.
type TableManifest struct {
	Name    string        `json:"name"`
	Sources []TableSource `json:"sources"`
}

// ImportTable starts ingesting CSV files from Cloud Storage into a table
// asset. Geometry is read from the ".geo" GeoJSON column.
func (c *Client) ImportTable(ctx context.Context, assetID string, uris []string) (*Operation, error) {
	req := struct {
		TableManifest TableManifest `json:"tableManifest"`
	}{TableManifest{
		Name: AssetName(assetID),
		Sources: []TableSource{{
			URIs:                  uris,
			CSVDelimiter:          ",",
			PrimaryGeometryColumn: ".geo",
		}},
	}}
	var op Operation
	if err := c.do(ctx, "POST", c.projectPath()+"/table:import", nil, req, &op); err != nil {
		return nil, fmt.Errorf("failed to start import of %s: %w", assetID, err)
	}
	logging.Tasks("Started import %v -> %s (%s)", uris, assetID, op.Name)
	return &op, nil
}

// OperationName expands a bare operation id, as printed by tasks status,
// to its full resource name in the client's project.
func (c *Client) OperationName(name string) string {
	name = strings.Trim(name, "/")
	if strings.Contains(name, "/") {
		return name
	}
	return c.projectPath() + "/operations/" + name
}

// GetOperation returns the current state of an operation. name may be a
// full resource name or a bare id.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.do(ctx, "GET", c.OperationName(name), nil, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ListOperations returns every operation of the project, newest first.
func (c *Client) ListOperations(ctx context.Context) ([]Operation, error) {
	var all []Operation
	token := ""
	for {
		q := url.Values{}
		if token != "" {
			q.Set("pageToken", token)
		}
		var page struct {
			Operations    []Operation `json:"operations"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := c.do(ctx, "GET", c.projectPath()+"/operations", q, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list operations: %w", err)
		}
		all = append(all, page.Operations...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// CancelOperation requests cancellation of a running operation. name may
// be a full resource name or a bare id.
func (c *Client) CancelOperation(ctx context.Context, name string) error {
	if err := c.do(ctx, "POST", c.OperationName(name)+":cancel", nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to cancel %s: %w", name, err)
	}
	logging.Tasks("Requested cancellation of %s", name)
	return nil
}
