// Package gcs provides an evidence archive backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// EvidenceStore archives raw analysis payloads in a configured GCS bucket.
type EvidenceStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed evidence store.
func New(client *storage.Client, cfg Config) (*EvidenceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &EvidenceStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutEvidence uploads a payload to the configured bucket and returns its
// gs:// URI.
func (s *EvidenceStore) PutEvidence(ctx context.Context, path string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy evidence: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy evidence: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
