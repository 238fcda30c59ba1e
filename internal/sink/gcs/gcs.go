// Package gcs stores record batches as JSON objects in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// Name is the registry name of this sink.
const Name = "gcs"

// Config captures the bucket layout.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Sink uploads <prefix>/<batch name>.json to the configured bucket.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	hasher mylist.Hasher
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config, hasher mylist.Hasher) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: hasher,
	}, nil
}

// Name implements mylist.Sink.
func (s *Sink) Name() string { return Name }

// ObjectName maps an output name to its object path.
func (s *Sink) ObjectName(name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("output name is required")
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	if s.prefix == "" {
		return name, nil
	}
	return path.Join(s.prefix, name), nil
}

// Write uploads the batch, overwriting any previous object.
func (s *Sink) Write(ctx context.Context, batch mylist.Batch) (mylist.SinkResult, error) {
	object, err := s.ObjectName(batch.Name)
	if err != nil {
		return mylist.SinkResult{}, err
	}
	payload, err := sink.Encode(batch.Records, s.hasher)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"run_id": batch.RunID,
		"label":  batch.Label,
		"digest": payload.Digest,
	}
	if _, err := writer.Write(payload.Data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return mylist.SinkResult{}, fmt.Errorf("write object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return mylist.SinkResult{}, fmt.Errorf("write object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return mylist.SinkResult{}, fmt.Errorf("close writer for object %s: %w", object, err)
	}

	metrics.ObserveSinkWrite(Name, mylist.ActionWritten)
	return mylist.SinkResult{
		Sink:   Name,
		Target: fmt.Sprintf("gs://%s/%s", s.bucket, object),
		Action: mylist.ActionWritten,
		Digest: payload.Digest,
		Count:  len(batch.Records),
	}, nil
}
