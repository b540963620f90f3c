// Package earthengine is a small client for the Earth Engine REST API (v1).
//
// It covers what the pipeline needs: asset CRUD, table exports and imports,
// long-running operation polling, and synchronous computation of expressions
// built with package ee.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/auth/httptransport"
	"golang.org/x/time/rate"

	"leafprep/internal/logging"
)

const (
	// DefaultEndpoint is the high-volume endpoint, suited to many small requests.
	DefaultEndpoint = "https://earthengine-highvolume.googleapis.com"

	// LegacyProject owns assets addressed as users/<name>/...
	LegacyProject = "projects/earthengine-legacy"
)

// Scopes requested for Earth Engine access.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Sentinel errors matched through errors.Is on *APIError.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// APIError is an error response from the REST API.
type APIError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("earth engine: %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("earth engine: %d: %s", e.Code, e.Message)
}

// Is maps HTTP and gRPC status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound || e.Status == "NOT_FOUND"
	case ErrAlreadyExists:
		return e.Code == http.StatusConflict || e.Status == "ALREADY_EXISTS"
	}
	return false
}

// Options configures New.
type Options struct {
	Project           string
	Endpoint          string
	CredentialsFile   string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client talks to one Earth Engine project.
type Client struct {
	project    string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New initializes an authenticated client. Credentials come from
// opts.CredentialsFile when set, otherwise from Application Default Credentials.
func New(opts Options) (*Client, error) {
	if opts.Project == "" {
		return nil, fmt.Errorf("earth engine project required")
	}

	timer := logging.StartTimer(logging.CategoryEarthEngine, "session initialization")
	defer timer.Stop()

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          Scopes,
		CredentialsFile: opts.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect credentials: %w", err)
	}

	hc, err := httptransport.NewClient(&httptransport.Options{
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated transport: %w", err)
	}
	if opts.Timeout > 0 {
		hc.Timeout = opts.Timeout
	}

	c := NewWithHTTPClient(opts.Project, opts.Endpoint, hc, opts.RequestsPerSecond)
	logging.EarthEngine("Initialized Earth Engine client: project=%s endpoint=%s", c.project, c.baseURL)
	return c, nil
}

// NewWithHTTPClient builds a client around an existing HTTP client, which is
// expected to add authentication itself. rps <= 0 disables rate limiting.
func NewWithHTTPClient(project, endpoint string, hc *http.Client, rps float64) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	project = strings.TrimPrefix(project, "projects/")
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		project:    project,
		baseURL:    strings.TrimSuffix(endpoint, "/") + "/v1",
		httpClient: hc,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Project returns the Cloud project id the client bills against.
func (c *Client) Project() string { return c.project }

func (c *Client) projectPath() string { return "projects/" + c.project }

// do sends one request. path is relative to the versioned base URL; in and out
// may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		logging.EarthEngineDebug("%s %s (%d bytes)", method, path, len(data))
	} else {
		logging.EarthEngineDebug("%s %s", method, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-User-Project", c.project)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		logging.Get(logging.CategoryEarthEngine).Warn("%s %s: %v (%v)", method, path, apiErr, time.Since(start))
		return apiErr
	}
	logging.EarthEngineDebug("%s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start))

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		if envelope.Error.Code == 0 {
			envelope.Error.Code = resp.StatusCode
		}
		return envelope.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Code: resp.StatusCode, Message: msg}
}
