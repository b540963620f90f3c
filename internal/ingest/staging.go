package ingest

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"leafprep/internal/logging"
)

// GCSStager writes staged tables to a Cloud Storage bucket.
type GCSStager struct {
	client *storage.Client
	bucket string
}

// NewGCSStager opens a storage client with application default credentials,
// or credentialsFile when set.
func NewGCSStager(ctx context.Context, bucket, credentialsFile string) (*GCSStager, error) {
	if bucket == "" {
		return nil, fmt.Errorf("staging bucket not configured")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStager{client: client, bucket: bucket}, nil
}

// Stage implements Stager.
func (s *GCSStager) Stage(ctx context.Context, object string, body io.Reader) (string, error) {
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, object, err)
	}
	logging.IngestDebug("Staged %d bytes to gs://%s/%s", n, s.bucket, object)
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// Close releases the storage client.
func (s *GCSStager) Close() error {
	return s.client.Close()
}
