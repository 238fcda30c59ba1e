package mylist

import (
	"net/http"
	"strings"
	"time"
)

// ItemStub is the minimal item reference produced by a resolver.
type ItemStub struct {
	ExternalID string
	OwnerName  string
	RawTitle   string
}

// EnrichedRecord is the normalized output record for one playlist item.
type EnrichedRecord struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Artist          string  `json:"artist"`
	Thumbnail       string  `json:"thumbnail"`
	OGPThumbnailURL *string `json:"ogpThumbnailUrl"`
}

// PlaylistReference names the playlist to import and where the output goes.
type PlaylistReference struct {
	// Ref is a bare mylist id or any URL containing "mylist/<digits>".
	Ref string
	// Output is the destination name, e.g. the JSON file stem.
	Output string
	// Label overrides the period label derived from the clock.
	Label string
}

// Outcome reports how an item was enriched.
type Outcome int

const (
	// OutcomeOK means metadata came from the item page.
	OutcomeOK Outcome = iota
	// OutcomeDegraded means the record was built from stub data only.
	OutcomeDegraded
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// ItemResult is the enrichment result for one stub.
type ItemResult struct {
	Record  EnrichedRecord
	Outcome Outcome
	Reason  string
}

// Batch is the unit a Sink persists.
type Batch struct {
	RunID   string
	Name    string
	Label   string
	Source  string
	Records []EnrichedRecord
}

// Sink actions reported in SinkResult.Action.
const (
	ActionWritten = "written"
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// SinkResult describes what a Sink did with a Batch.
type SinkResult struct {
	Sink   string `json:"sink"`
	Target string `json:"target"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// LabelLayout formats the period label, e.g. "2025.09".
const LabelLayout = "2006.01"

// PeriodLabel returns the year-month label for t.
func PeriodLabel(t time.Time) string {
	return t.Format(LabelLayout)
}

// ValidLabel reports whether s is a well-formed period label.
func ValidLabel(s string) bool {
	t, err := time.Parse(LabelLayout, s)
	return err == nil && PeriodLabel(t) == s
}

// DefaultOutputName derives a file-safe output name from a label:
// "2025.09" -> "2025-09".
func DefaultOutputName(label string) string {
	return strings.ReplaceAll(label, ".", "-")
}
