// Package cms upserts record batches into a headless CMS over its REST API.
// Documents are keyed by the period label: the sink searches for an
// existing document first, then issues exactly one PATCH or POST.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// Name is the registry name of this sink.
const Name = "cms"

const (
	defaultAPIKeyHeader = "X-MICROCMS-API-KEY"
	defaultLabelField   = "yearMonth"
	defaultRecordsField = "videos"
	defaultTimeout      = 15 * time.Second
	maxErrorBody        = 4 << 10
)

// Config describes the CMS endpoint.
type Config struct {
	BaseURL      string
	Endpoint     string
	APIKey       string
	APIKeyHeader string
	LabelField   string
	RecordsField string
	Timeout      time.Duration
}

// Sink is a REST upsert client.
type Sink struct {
	cfg    Config
	base   *url.URL
	client *http.Client
	hasher mylist.Hasher
	logger *zap.Logger
}

// Option customizes a Sink.
type Option func(*Sink)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates cfg and builds a Sink.
func New(cfg Config, hasher mylist.Hasher, opts ...Option) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("cms base url is required")
	}
	if strings.Trim(cfg.Endpoint, "/ ") == "" {
		return nil, fmt.Errorf("cms endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse cms base url %q: invalid", cfg.BaseURL)
	}
	cfg.Endpoint = strings.Trim(cfg.Endpoint, "/ ")
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.LabelField == "" {
		cfg.LabelField = defaultLabelField
	}
	if cfg.RecordsField == "" {
		cfg.RecordsField = defaultRecordsField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	s := &Sink{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		hasher: hasher,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements mylist.Sink.
func (s *Sink) Name() string { return Name }

type listResponse struct {
	Contents []struct {
		ID string `json:"id"`
	} `json:"contents"`
	TotalCount int `json:"totalCount"`
}

type writeResponse struct {
	ID string `json:"id"`
}

// Write searches for the document labelled batch.Label and updates it, or
// creates one when none exists.
func (s *Sink) Write(ctx context.Context, batch mylist.Batch) (mylist.SinkResult, error) {
	if strings.TrimSpace(batch.Label) == "" {
		return mylist.SinkResult{}, fmt.Errorf("label is required")
	}
	payload, err := sink.Encode(batch.Records, s.hasher)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	id, err := s.find(ctx, batch.Label)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	body, err := s.documentBody(batch)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	action := mylist.ActionCreated
	method, target := http.MethodPost, s.endpointURL("")
	if id != "" {
		action = mylist.ActionUpdated
		method, target = http.MethodPatch, s.endpointURL(id)
	}

	var resp writeResponse
	if err := s.do(ctx, method, target, body, &resp); err != nil {
		return mylist.SinkResult{}, err
	}
	if resp.ID != "" {
		id = resp.ID
	}
	s.logger.Info("cms document upserted",
		zap.String("label", batch.Label),
		zap.String("id", id),
		zap.String("action", action),
		zap.Int("records", len(batch.Records)))

	metrics.ObserveSinkWrite(Name, action)
	return mylist.SinkResult{
		Sink:   Name,
		Target: s.endpointURL(id),
		Action: action,
		ID:     id,
		Digest: payload.Digest,
		Count:  len(batch.Records),
	}, nil
}

func (s *Sink) find(ctx context.Context, label string) (string, error) {
	q := url.Values{}
	q.Set("filters", fmt.Sprintf("%s[equals]%s", s.cfg.LabelField, label))
	q.Set("limit", "1")
	target := s.endpointURL("") + "?" + q.Encode()

	var list listResponse
	if err := s.do(ctx, http.MethodGet, target, nil, &list); err != nil {
		return "", fmt.Errorf("search document: %w", err)
	}
	if len(list.Contents) == 0 {
		return "", nil
	}
	return list.Contents[0].ID, nil
}

func (s *Sink) documentBody(batch mylist.Batch) ([]byte, error) {
	records := batch.Records
	if records == nil {
		records = []mylist.EnrichedRecord{}
	}
	doc := map[string]any{
		s.cfg.LabelField:   batch.Label,
		s.cfg.RecordsField: records,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return body, nil
}

func (s *Sink) endpointURL(id string) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + s.cfg.Endpoint
	if id != "" {
		u.Path += "/" + url.PathEscape(id)
	}
	return u.String()
}

func (s *Sink) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set(s.cfg.APIKeyHeader, s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, s.cfg.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, s.cfg.Endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
