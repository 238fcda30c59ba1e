package mylist

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
// Non-2xx responses are reported as errors.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Resolver expands a playlist reference into ordered item stubs.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]ItemStub, error)
}

// Enricher turns a stub into a record. It never fails.
type Enricher interface {
	Enrich(ctx context.Context, stub ItemStub) ItemResult
}

// Sink persists a batch of records.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch Batch) (SinkResult, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for output integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
