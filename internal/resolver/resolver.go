// Package resolver expands a mylist reference into ordered item stubs.
//
// The JSON list API is tried first. Any failure there, including an empty
// list, falls back to the public RSS feed. Only when both fail does Resolve
// return a *mylist.ResolutionError.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

// Sources reported in the resolve_source metric.
const (
	SourceAPI  = "api"
	SourceFeed = "feed"
)

var (
	mylistPath = regexp.MustCompile(`mylist/(\d+)`)
	bareID     = regexp.MustCompile(`^\d+$`)
	itemID     = regexp.MustCompile(`^[a-z]{2}\d+$`)
)

// Config points the resolver at its upstreams.
type Config struct {
	APIBaseURL      string
	FeedBaseURL     string
	PageSize        int
	MaxPages        int
	FrontendID      string
	FrontendVersion string
}

// Resolver implements mylist.Resolver.
type Resolver struct {
	fetcher mylist.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Resolver.
func New(fetcher mylist.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://nvapi.nicovideo.jp"
	}
	if cfg.FeedBaseURL == "" {
		cfg.FeedBaseURL = "https://www.nicovideo.jp"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.FrontendID == "" {
		cfg.FrontendID = "6"
	}
	if cfg.FrontendVersion == "" {
		cfg.FrontendVersion = "0"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.FeedBaseURL = strings.TrimRight(cfg.FeedBaseURL, "/")
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

// ParseMylistID extracts the numeric mylist id from a bare id or any URL
// containing "mylist/<digits>".
func ParseMylistID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if bareID.MatchString(ref) {
		return ref, nil
	}
	if m := mylistPath.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: %q", mylist.ErrInvalidReference, ref)
}

// ParseItemID accepts a bare item id ("sm9") or a watch URL and returns the id.
func ParseItemID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if itemID.MatchString(ref) {
		return ref, nil
	}
	if id := itemIDFromLink(ref); itemID.MatchString(id) {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", mylist.ErrInvalidReference, ref)
}

// Resolve returns the playlist's stubs in upstream order.
func (r *Resolver) Resolve(ctx context.Context, ref string) ([]mylist.ItemStub, error) {
	id, err := ParseMylistID(ref)
	if err != nil {
		return nil, &mylist.ResolutionError{Ref: ref, Reason: "parse reference", Err: err}
	}
	logger := r.logger.With(zap.String("mylist_id", id))

	stubs, apiErr := r.fromAPI(ctx, id)
	if apiErr == nil {
		metrics.ObserveResolveSource(SourceAPI)
		logger.Debug("resolved via list api", zap.Int("items", len(stubs)))
		return stubs, nil
	}
	logger.Warn("list api failed; trying feed", zap.Error(apiErr))

	stubs, feedErr := r.fromFeed(ctx, id)
	if feedErr == nil {
		metrics.ObserveResolveSource(SourceFeed)
		logger.Debug("resolved via feed", zap.Int("items", len(stubs)))
		return stubs, nil
	}
	logger.Error("feed failed", zap.Error(feedErr))

	return nil, &mylist.ResolutionError{
		Ref:    ref,
		Reason: "all sources failed",
		Err:    errors.Join(fmt.Errorf("api: %w", apiErr), fmt.Errorf("feed: %w", feedErr)),
	}
}
