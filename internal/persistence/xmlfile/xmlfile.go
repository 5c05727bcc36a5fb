// Package xmlfile implements the durable configuration persister: a single
// XML document on disk holding the whole model, rewritten atomically on
// every Store (spec.md §6 lists "xmlfile" as a PERSISTENCE_BACKEND, backed
// by infrastructure/config's PersistenceConfig.Path).
package xmlfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/persistence"
)

// Backend is a persistence.Persister backed by a single XML file, rewritten
// in full on every Store via write-temp-then-rename so a crash mid-write
// never leaves a truncated document behind.
type Backend struct {
	path string
	mu   sync.Mutex
}

// New returns a Backend storing its document at path, creating path's
// parent directory if necessary.
func New(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("xmlfile: create directory: %w", err)
	}
	return &Backend{path: path}, nil
}

// Store atomically rewrites the document with model's XML rendition.
func (b *Backend) Store(model *dmr.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("xmlfile: create temp file: %w", err)
	}
	if err := persistence.EncodeXML(model, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("xmlfile: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("xmlfile: close temp file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("xmlfile: rename: %w", err)
	}
	return nil
}

// Load parses the document at path and returns the single restore-model
// boot operation wrapping it, or nil if the file doesn't exist yet.
func (b *Backend) Load() ([]*dmr.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xmlfile: open: %w", err)
	}
	defer f.Close()

	model, err := persistence.DecodeXML(f)
	if err != nil {
		return nil, fmt.Errorf("xmlfile: decode %s: %w", b.path, err)
	}
	return []*dmr.Value{persistence.RestoreOp(model)}, nil
}

// MarshalAsXML writes model's XML rendition to w, independent of the file
// this backend actually persists to.
func (b *Backend) MarshalAsXML(model *dmr.Value, w io.Writer) error {
	return persistence.EncodeXML(model, w)
}

// HealthCheck satisfies infrastructure/daemon.Pinger: the backend is healthy
// as long as its directory is still writable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	probe := b.path + ".health"
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return fmt.Errorf("xmlfile: directory not writable: %w", err)
	}
	return os.Remove(probe)
}

var _ persistence.Persister = (*Backend)(nil)

// TickerFlush is a best-effort persistence flush callback in the shape
// infrastructure/daemon.AddTickerWorker expects, storing the current model.
func TickerFlush(b *Backend, tree interface{ Snapshot() *dmr.Value }) func(context.Context) error {
	return func(ctx context.Context) error {
		return b.Store(tree.Snapshot())
	}
}
