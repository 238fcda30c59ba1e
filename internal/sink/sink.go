// Package sink holds the shared payload encoding and the name-keyed sink
// registry. Implementations live in the subpackages.
package sink

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

// Payload is the serialized record list plus its digest.
type Payload struct {
	Data   []byte
	Digest string
}

// Encode renders records as a pretty-printed JSON array with a trailing
// newline. A nil slice encodes as [].
func Encode(records []mylist.EnrichedRecord, hasher mylist.Hasher) (Payload, error) {
	if records == nil {
		records = []mylist.EnrichedRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return Payload{}, fmt.Errorf("marshal records: %w", err)
	}
	data = append(data, '\n')
	p := Payload{Data: data}
	if hasher != nil {
		digest, err := hasher.Hash(data)
		if err != nil {
			return Payload{}, fmt.Errorf("hash records: %w", err)
		}
		p.Digest = digest
	}
	return p, nil
}

// Registry resolves sinks by name.
type Registry struct {
	sinks map[string]mylist.Sink
}

// NewRegistry registers each sink under its Name.
func NewRegistry(sinks ...mylist.Sink) *Registry {
	r := &Registry{sinks: make(map[string]mylist.Sink, len(sinks))}
	for _, s := range sinks {
		if s != nil {
			r.sinks[s.Name()] = s
		}
	}
	return r
}

// Get returns the named sink or an error wrapping mylist.ErrUnknownSink.
func (r *Registry) Get(name string) (mylist.Sink, error) {
	s, ok := r.sinks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", mylist.ErrUnknownSink, name)
	}
	return s, nil
}

// Names lists registered sinks in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
