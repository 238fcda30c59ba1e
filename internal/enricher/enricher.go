// Package enricher builds normalized records from item stubs by scraping the
// item page's social metadata.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/normalize"
)

// ErrNoMetadata is returned by Scrape when a page carries no title or image.
var ErrNoMetadata = errors.New("page has no social metadata")

// Config controls URL and thumbnail derivation.
type Config struct {
	WatchBaseURL string
	ThumbnailDir string
	ThumbnailExt string
}

// RenderDetector decides whether a static page without metadata should be
// rendered. *detector.Heuristic satisfies it.
type RenderDetector interface {
	ShouldRender(resp mylist.FetchResponse) bool
}

// Enricher implements mylist.Enricher.
type Enricher struct {
	fetcher  mylist.Fetcher
	headless mylist.Fetcher
	detector RenderDetector
	cfg      Config
	logger   *zap.Logger
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithRenderDetector gates headless rendering on d. Without one, every page
// lacking metadata is rendered.
func WithRenderDetector(d RenderDetector) Option {
	return func(e *Enricher) {
		e.detector = d
	}
}

// New constructs an Enricher. headless may be nil.
func New(fetcher, headless mylist.Fetcher, cfg Config, logger *zap.Logger, opts ...Option) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WatchBaseURL == "" {
		cfg.WatchBaseURL = "https://www.nicovideo.jp/watch/"
	}
	if !strings.HasSuffix(cfg.WatchBaseURL, "/") {
		cfg.WatchBaseURL += "/"
	}
	if cfg.ThumbnailDir == "" {
		cfg.ThumbnailDir = "/thumbnails"
	}
	if cfg.ThumbnailExt == "" {
		cfg.ThumbnailExt = ".jpg"
	}
	e := &Enricher{fetcher: fetcher, headless: headless, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanonicalURL returns the watch page URL for an item id.
func (e *Enricher) CanonicalURL(id string) string {
	return e.cfg.WatchBaseURL + url.PathEscape(id)
}

// ThumbnailPath returns the local thumbnail path for an item id.
func (e *Enricher) ThumbnailPath(id string) string {
	return path.Join(e.cfg.ThumbnailDir, id+e.cfg.ThumbnailExt)
}

// Enrich never fails: any scrape problem degrades the record to stub data.
func (e *Enricher) Enrich(ctx context.Context, stub mylist.ItemStub) mylist.ItemResult {
	canonical := e.CanonicalURL(stub.ExternalID)
	rec := mylist.EnrichedRecord{
		ID:        stub.ExternalID,
		URL:       canonical,
		Thumbnail: e.ThumbnailPath(stub.ExternalID),
	}
	result := mylist.ItemResult{Outcome: mylist.OutcomeOK}

	title := stub.RawTitle
	meta, err := e.Scrape(ctx, canonical)
	if err != nil {
		result.Outcome = mylist.OutcomeDegraded
		result.Reason = err.Error()
		e.logger.Debug("enrichment degraded",
			zap.String("item_id", stub.ExternalID),
			zap.Error(err),
		)
	} else {
		if meta.Title != "" {
			title = meta.Title
		}
		if meta.Image != "" {
			image := meta.Image
			rec.OGPThumbnailURL = &image
		}
	}

	rec.Title = normalize.Title(title)
	if rec.Title == "" {
		rec.Title = normalize.Title(stub.RawTitle)
	}
	if rec.Title == "" {
		rec.Title = stub.ExternalID
	}
	rec.Artist = normalize.ResolveArtist(stub.OwnerName, rec.Title)
	result.Record = rec
	return result
}

// Scrape fetches pageURL once and parses its social metadata. When the static
// page has none and a headless fetcher is configured, the page is rendered
// once more in a browser, unless the render detector rules it out.
func (e *Enricher) Scrape(ctx context.Context, pageURL string) (OGP, error) {
	meta, resp, err := e.scrapeWith(ctx, e.fetcher, pageURL)
	if err != nil {
		return OGP{}, err
	}
	if !meta.Empty() {
		return meta, nil
	}
	if e.headless != nil && (e.detector == nil || e.detector.ShouldRender(resp)) {
		e.logger.Debug("rendering page for metadata", zap.String("url", pageURL))
		rendered, _, err := e.scrapeWith(ctx, e.headless, pageURL)
		if err != nil {
			return OGP{}, fmt.Errorf("headless: %w", err)
		}
		if !rendered.Empty() {
			return rendered, nil
		}
	}
	return OGP{}, ErrNoMetadata
}

func (e *Enricher) scrapeWith(ctx context.Context, fetcher mylist.Fetcher, pageURL string) (OGP, mylist.FetchResponse, error) {
	if fetcher == nil {
		return OGP{}, mylist.FetchResponse{}, errors.New("no fetcher configured")
	}
	resp, err := fetcher.Fetch(ctx, mylist.FetchRequest{
		URL: pageURL,
		Headers: http.Header{
			"Accept":          {"text/html,application/xhtml+xml"},
			"Accept-Language": {"ja,en;q=0.8"},
		},
	})
	if err != nil {
		return OGP{}, mylist.FetchResponse{}, fmt.Errorf("fetch page: %w", err)
	}
	base := resp.URL
	if base == "" {
		base = pageURL
	}
	meta, err := ParseOGP(resp.Body, base)
	if err != nil {
		return OGP{}, resp, err
	}
	meta.URL = pageURL
	return meta, resp, nil
}
