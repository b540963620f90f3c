package earthengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"leafprep/internal/logging"
)

// Asset types.
const (
	AssetFolder          = "FOLDER"
	AssetTable           = "TABLE"
	AssetImage           = "IMAGE"
	AssetImageCollection = "IMAGE_COLLECTION"
)

// Asset is the metadata of one asset.
type Asset struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	ID         string `json:"id,omitempty"`
	UpdateTime string `json:"updateTime,omitempty"`
	SizeBytes  string `json:"sizeBytes,omitempty"`
}

// AssetName converts a user-facing asset id into its REST resource name.
// Legacy ids (users/...) live in the earthengine-legacy project.
func AssetName(id string) string {
	id = strings.Trim(id, "/")
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	return LegacyProject + "/assets/" + id
}

// splitAssetName returns the project path and the asset id relative to it.
func splitAssetName(name string) (project, assetID string, err error) {
	parts := strings.SplitN(name, "/assets/", 2)
	if len(parts) != 2 || parts[1] == "" || !strings.HasPrefix(parts[0], "projects/") {
		return "", "", fmt.Errorf("invalid asset name %q", name)
	}
	return parts[0], parts[1], nil
}

// GetAsset returns the metadata of an asset.
func (c *Client) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	if err := c.do(ctx, "GET", AssetName(id), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetExists reports whether the asset can be read. Any error counts as
// absence; non-404 errors are logged.
func (c *Client) AssetExists(ctx context.Context, id string) bool {
	_, err := c.GetAsset(ctx, id)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotFound) {
		logging.AssetsWarn("Existence check for %s failed: %v", id, err)
	}
	return false
}

// ListAssets returns every direct child of parent, following pagination.
func (c *Client) ListAssets(ctx context.Context, parent string) ([]Asset, error) {
	var all []Asset
	name := AssetName(parent)
	token := ""
	for {
		q := url.Values{}
		q.Set("pageSize", "1000")
		if token != "" {
			q.Set("pageToken", token)
		}
		var page struct {
			Assets        []Asset `json:"assets"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := c.do(ctx, "GET", name+":listAssets", q, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", parent, err)
		}
		all = append(all, page.Assets...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	logging.EarthEngineDebug("Listed %d assets under %s", len(all), parent)
	return all, nil
}

// CreateFolder creates a folder asset. It returns an error matching
// ErrAlreadyExists when the folder is already there.
func (c *Client) CreateFolder(ctx context.Context, id string) (*Asset, error) {
	project, assetID, err := splitAssetName(AssetName(id))
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("assetId", assetID)
	var a Asset
	if err := c.do(ctx, "POST", project+"/assets", q, Asset{Type: AssetFolder}, &a); err != nil {
		return nil, err
	}
	logging.Assets("Created folder %s", a.Name)
	return &a, nil
}

// DeleteAsset deletes one asset.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	if err := c.do(ctx, "DELETE", AssetName(id), nil, nil, nil); err != nil {
		return err
	}
	logging.Assets("Deleted asset %s", id)
	return nil
}

// MoveAsset renames an asset.
func (c *Client) MoveAsset(ctx context.Context, from, to string) (*Asset, error) {
	req := struct {
		DestinationName string `json:"destinationName"`
	}{DestinationName: AssetName(to)}
	var a Asset
	if err := c.do(ctx, "POST", AssetName(from)+":move", nil, req, &a); err != nil {
		return nil, err
	}
	logging.Assets("Moved %s -> %s", from, to)
	return &a, nil
}
