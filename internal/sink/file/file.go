// Package file writes record batches as JSON files on the local filesystem.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// Name is the registry name of this sink.
const Name = "file"

// Config captures the parameters for the file sink.
type Config struct {
	// BaseDir is the directory that receives <name>.json files.
	BaseDir string
}

// Sink writes <BaseDir>/<batch name>.json, replacing any previous file.
type Sink struct {
	baseDir string
	hasher  mylist.Hasher
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config, hasher mylist.Hasher) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &Sink{baseDir: cfg.BaseDir, hasher: hasher}, nil
}

// Name implements mylist.Sink.
func (s *Sink) Name() string { return Name }

// Path returns the file path for an output name, rejecting names that
// escape the base directory.
func (s *Sink) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("output name is required")
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	cleanBase := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(cleanBase, name))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Write replaces the output file atomically via rename.
func (s *Sink) Write(_ context.Context, batch mylist.Batch) (mylist.SinkResult, error) {
	full, err := s.Path(batch.Name)
	if err != nil {
		return mylist.SinkResult{}, err
	}
	payload, err := sink.Encode(batch.Records, s.hasher)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return mylist.SinkResult{}, fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*")
	if err != nil {
		return mylist.SinkResult{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(payload.Data); err != nil {
		_ = tmp.Close()
		return mylist.SinkResult{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return mylist.SinkResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return mylist.SinkResult{}, fmt.Errorf("rename output file: %w", err)
	}

	metrics.ObserveSinkWrite(Name, mylist.ActionWritten)
	return mylist.SinkResult{
		Sink:   Name,
		Target: "file://" + full,
		Action: mylist.ActionWritten,
		Digest: payload.Digest,
		Count:  len(batch.Records),
	}, nil
}
