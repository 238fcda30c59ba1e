// Package mylist defines the shared types, collaborator interfaces, and errors
// for the playlist import pipeline.
//
// The pipeline turns a playlist reference into a flat list of EnrichedRecord
// values: the resolver yields ItemStub values, the enricher turns each stub
// into an ItemResult, and a Sink persists the final Batch wholesale.
package mylist
