// Package memory keeps record batches in process, keyed by label. The HTTP
// API uses it when no external sink is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// Name is the registry name of this sink.
const Name = "memory"

// Entry is a stored document.
type Entry struct {
	ID        string
	Label     string
	RunID     string
	Records   []mylist.EnrichedRecord
	Digest    string
	UpdatedAt time.Time
}

// Sink is a mutex-guarded upsert store.
type Sink struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ids     mylist.IDGenerator
	clock   mylist.Clock
	hasher  mylist.Hasher
}

// New constructs an empty store.
func New(ids mylist.IDGenerator, clock mylist.Clock, hasher mylist.Hasher) *Sink {
	return &Sink{
		entries: make(map[string]Entry),
		ids:     ids,
		clock:   clock,
		hasher:  hasher,
	}
}

// Name implements mylist.Sink.
func (s *Sink) Name() string { return Name }

// Write replaces the entry for batch.Label, keeping its id, or creates one.
func (s *Sink) Write(_ context.Context, batch mylist.Batch) (mylist.SinkResult, error) {
	if batch.Label == "" {
		return mylist.SinkResult{}, fmt.Errorf("label is required")
	}
	payload, err := sink.Encode(batch.Records, s.hasher)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	action := mylist.ActionUpdated
	entry, ok := s.entries[batch.Label]
	if !ok {
		action = mylist.ActionCreated
		id, err := s.ids.NewID()
		if err != nil {
			return mylist.SinkResult{}, fmt.Errorf("generate entry id: %w", err)
		}
		entry = Entry{ID: id, Label: batch.Label}
	}
	entry.RunID = batch.RunID
	entry.Records = append([]mylist.EnrichedRecord(nil), batch.Records...)
	entry.Digest = payload.Digest
	if s.clock != nil {
		entry.UpdatedAt = s.clock.Now()
	}
	s.entries[batch.Label] = entry

	metrics.ObserveSinkWrite(Name, action)
	return mylist.SinkResult{
		Sink:   Name,
		Target: "memory://" + batch.Label,
		Action: action,
		ID:     entry.ID,
		Digest: payload.Digest,
		Count:  len(batch.Records),
	}, nil
}

// Get returns a copy of the entry stored under label.
func (s *Sink) Get(label string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[label]
	if !ok {
		return Entry{}, fmt.Errorf("label %q: %w", label, mylist.ErrNotFound)
	}
	entry.Records = append([]mylist.EnrichedRecord(nil), entry.Records...)
	return entry, nil
}

// Len reports the number of stored labels.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
