// Package pipeline runs an import end to end: resolve the playlist, enrich
// every item through the runner, hand the records to a sink and announce
// the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/resolver"
	"github.com/JakeFAU/mylist-importer/internal/runner"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// State is the import lifecycle position.
type State string

// Import states. A run moves RESOLVING -> ENRICHING -> DONE, or
// RESOLVING -> FAILED.
const (
	StateResolving State = "RESOLVING"
	StateEnriching State = "ENRICHING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Batch sources.
const (
	SourcePlaylist = "playlist"
	SourceSingle   = "single"
)

// Result is the in-memory outcome of an import. It stays valid when the
// sink write fails.
type Result struct {
	RunID       string                  `json:"run_id"`
	Playlist    string                  `json:"playlist"`
	State       State                   `json:"state"`
	Label       string                  `json:"label"`
	Records     []mylist.EnrichedRecord `json:"records"`
	Degraded    int                     `json:"degraded"`
	Failed      []string                `json:"failed,omitempty"`
	Sink        *mylist.SinkResult      `json:"sink,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
}

// Event is the completion payload published after a successful write.
type Event struct {
	RunID       string    `json:"run_id"`
	Playlist    string    `json:"playlist"`
	Label       string    `json:"label"`
	Sink        string    `json:"sink"`
	Target      string    `json:"target"`
	Action      string    `json:"action"`
	Records     int       `json:"records"`
	Digest      string    `json:"digest"`
	CompletedAt time.Time `json:"completed_at"`
}

// Deps are the collaborators of an Orchestrator. Publisher may be nil.
type Deps struct {
	Resolver  mylist.Resolver
	Enricher  mylist.Enricher
	Runner    *runner.Runner
	Sinks     *sink.Registry
	Publisher mylist.Publisher
	Topic     string
	IDs       mylist.IDGenerator
	Clock     mylist.Clock
	Logger    *zap.Logger
}

// Orchestrator implements the import pipeline.
type Orchestrator struct {
	deps        Deps
	defaultSink string
	progress    runner.ProgressFunc
	logger      *zap.Logger
}

// New validates deps and returns an Orchestrator writing to defaultSink
// unless a call names another sink.
func New(deps Deps, defaultSink string) (*Orchestrator, error) {
	switch {
	case deps.Resolver == nil:
		return nil, fmt.Errorf("resolver is required")
	case deps.Enricher == nil:
		return nil, fmt.Errorf("enricher is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("runner is required")
	case deps.Sinks == nil:
		return nil, fmt.Errorf("sink registry is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if _, err := deps.Sinks.Get(defaultSink); err != nil {
		return nil, fmt.Errorf("default sink: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, defaultSink: defaultSink, logger: logger}, nil
}

// WithProgress returns a copy of o that reports per-item progress to fn.
func (o *Orchestrator) WithProgress(fn runner.ProgressFunc) *Orchestrator {
	cp := *o
	cp.progress = fn
	return &cp
}

// Sinks lists the sink names an import can target.
func (o *Orchestrator) Sinks() []string {
	return o.deps.Sinks.Names()
}

// ImportPlaylist imports ref into the default sink.
func (o *Orchestrator) ImportPlaylist(ctx context.Context, ref mylist.PlaylistReference) (Result, error) {
	return o.Import(ctx, ref, "")
}

// Import resolves ref, enriches every item and writes the records to the
// named sink (the default when sinkName is empty).
//
// A *mylist.ResolutionError aborts before any sink call. A *mylist.SinkError
// is returned together with the populated Result.
func (o *Orchestrator) Import(ctx context.Context, ref mylist.PlaylistReference, sinkName string) (Result, error) {
	target, err := o.sink(sinkName)
	if err != nil {
		return Result{}, err
	}
	res, logger, err := o.start(ref.Ref)
	if err != nil {
		return res, err
	}

	logger.Info("import state", zap.String("state", string(res.State)))
	stubs, err := o.deps.Resolver.Resolve(ctx, ref.Ref)
	if err != nil {
		var resErr *mylist.ResolutionError
		if !errors.As(err, &resErr) {
			err = &mylist.ResolutionError{Ref: ref.Ref, Reason: "resolve", Err: err}
		}
		return o.fail(res, logger, err)
	}

	return o.finish(ctx, res, logger, stubs, ref, target, SourcePlaylist)
}

// ImportSingle enriches one item, given as an id or watch URL in ref.Ref,
// and writes it as a one-record batch.
func (o *Orchestrator) ImportSingle(ctx context.Context, ref mylist.PlaylistReference, sinkName string) (Result, error) {
	target, err := o.sink(sinkName)
	if err != nil {
		return Result{}, err
	}
	res, logger, err := o.start(ref.Ref)
	if err != nil {
		return res, err
	}

	id, err := resolver.ParseItemID(ref.Ref)
	if err != nil {
		return o.fail(res, logger, &mylist.ResolutionError{Ref: ref.Ref, Reason: "parse item id", Err: err})
	}
	stubs := []mylist.ItemStub{{ExternalID: id}}
	return o.finish(ctx, res, logger, stubs, ref, target, SourceSingle)
}

func (o *Orchestrator) sink(name string) (mylist.Sink, error) {
	if strings.TrimSpace(name) == "" {
		name = o.defaultSink
	}
	return o.deps.Sinks.Get(name)
}

func (o *Orchestrator) start(playlist string) (Result, *zap.Logger, error) {
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Result{State: StateFailed}, o.logger, fmt.Errorf("generate run id: %w", err)
	}
	res := Result{
		RunID:     runID,
		Playlist:  playlist,
		State:     StateResolving,
		StartedAt: o.deps.Clock.Now(),
	}
	logger := o.logger.With(zap.String("run_id", runID), zap.String("playlist", playlist))
	return res, logger, nil
}

func (o *Orchestrator) fail(res Result, logger *zap.Logger, err error) (Result, error) {
	res.State = StateFailed
	res.CompletedAt = o.deps.Clock.Now()
	metrics.ObserveImport(metricState(res.State))
	logger.Error("import state", zap.String("state", string(res.State)), zap.Error(err))
	return res, err
}

func (o *Orchestrator) finish(
	ctx context.Context,
	res Result,
	logger *zap.Logger,
	stubs []mylist.ItemStub,
	ref mylist.PlaylistReference,
	target mylist.Sink,
	source string,
) (Result, error) {
	res.State = StateEnriching
	stubs = uniqueStubs(stubs)
	logger.Info("import state", zap.String("state", string(res.State)), zap.Int("items", len(stubs)))

	run := o.deps.Runner
	if o.progress != nil {
		run = run.WithProgress(o.progress)
	}
	summary := run.Run(ctx, stubs, func(ctx context.Context, stub mylist.ItemStub) (mylist.ItemResult, error) {
		return o.deps.Enricher.Enrich(ctx, stub), nil
	})
	res.Records = summary.Records()
	res.Degraded = summary.Degraded()
	for _, f := range summary.Failed {
		res.Failed = append(res.Failed, f.ID)
	}

	res.Label = ref.Label
	if res.Label == "" {
		res.Label = mylist.PeriodLabel(o.deps.Clock.Now())
	}
	res.State = StateDone

	name := ref.Output
	if name == "" {
		name = mylist.DefaultOutputName(res.Label)
	}
	batch := mylist.Batch{
		RunID:   res.RunID,
		Name:    name,
		Label:   res.Label,
		Source:  source,
		Records: res.Records,
	}
	written, err := target.Write(ctx, batch)
	res.CompletedAt = o.deps.Clock.Now()
	if err != nil {
		metrics.ObserveImport("sink_error")
		sinkErr := &mylist.SinkError{Sink: target.Name(), Op: "write", Err: err}
		logger.Error("sink write failed",
			zap.String("sink", target.Name()),
			zap.Int("records", len(res.Records)),
			zap.Error(err))
		return res, sinkErr
	}
	res.Sink = &written
	metrics.ObserveImport(metricState(res.State))
	logger.Info("import state",
		zap.String("state", string(res.State)),
		zap.String("sink", written.Sink),
		zap.String("target", written.Target),
		zap.String("action", written.Action),
		zap.Int("records", len(res.Records)),
		zap.Int("degraded", res.Degraded))

	o.publish(ctx, logger, res, written)
	return res, nil
}

// publish failures are logged and never fail the import.
func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, res Result, written mylist.SinkResult) {
	if o.deps.Publisher == nil || o.deps.Topic == "" {
		return
	}
	event := Event{
		RunID:       res.RunID,
		Playlist:    res.Playlist,
		Label:       res.Label,
		Sink:        written.Sink,
		Target:      written.Target,
		Action:      written.Action,
		Records:     written.Count,
		Digest:      written.Digest,
		CompletedAt: res.CompletedAt,
	}
	id, err := o.deps.Publisher.Publish(ctx, o.deps.Topic, event)
	if err != nil {
		logger.Warn("publish completion event failed", zap.String("topic", o.deps.Topic), zap.Error(err))
		return
	}
	logger.Debug("completion event published", zap.String("topic", o.deps.Topic), zap.String("message_id", id))
}

// uniqueStubs drops repeated ids, keeping the first occurrence in upstream
// order so each item is fetched once.
func uniqueStubs(stubs []mylist.ItemStub) []mylist.ItemStub {
	seen := make(map[string]struct{}, len(stubs))
	out := make([]mylist.ItemStub, 0, len(stubs))
	for _, stub := range stubs {
		if _, dup := seen[stub.ExternalID]; dup {
			continue
		}
		seen[stub.ExternalID] = struct{}{}
		out = append(out, stub)
	}
	return out
}

func metricState(s State) string {
	return strings.ToLower(string(s))
}
