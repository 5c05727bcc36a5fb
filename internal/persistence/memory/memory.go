// Package memory implements the in-memory configuration persister: a
// store/load/marshalAsXml backend over infrastructure/state.MemoryBackend,
// for tests and hostd's typical deployment where persistence need not
// survive a process restart (spec.md §6 lists "memory" as a valid
// PERSISTENCE_BACKEND alongside "xmlfile").
package memory

import (
	"bytes"
	"context"
	"io"

	"github.com/r3e-network/mgmtctl/infrastructure/state"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/persistence"
)

// modelKey is the single key the whole model is stored under — this
// backend persists one document, not a keyed collection.
const modelKey = "model"

// Backend is a persistence.Persister backed by an in-memory byte-map, with
// no durability across restarts.
type Backend struct {
	store *state.PersistentState
}

// New builds a Backend.
func New() *Backend {
	cfg := state.DefaultConfig()
	cfg.Backend = state.NewMemoryBackend(0)
	cfg.KeyPrefix = "mgmtctl:"
	// The whole serialized model can run well past the 1MiB default.
	cfg.MaxSize = 256 * 1024 * 1024
	st, err := state.NewPersistentState(cfg)
	if err != nil {
		// Config above is always valid (non-nil Backend), so this path is
		// unreachable; a panic here would indicate a real programming
		// error, not a runtime condition worth returning.
		panic("persistence/memory: " + err.Error())
	}
	return &Backend{store: st}
}

// Store serializes model through the binary codec and saves it under the
// backend's single key.
func (b *Backend) Store(model *dmr.Value) error {
	data, err := model.EncodeBinaryBytes()
	if err != nil {
		return err
	}
	return b.store.Save(context.Background(), modelKey, data)
}

// Load returns the single restore-model boot operation wrapping whatever
// was last stored, or nil if Store has never been called.
func (b *Backend) Load() ([]*dmr.Value, error) {
	data, err := b.store.Load(context.Background(), modelKey)
	if err != nil {
		if err == state.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	model, err := dmr.DecodeBinary(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return []*dmr.Value{persistence.RestoreOp(model)}, nil
}

// MarshalAsXML renders model through the shared XML codec so both backends'
// XML rendition stays in lockstep.
func (b *Backend) MarshalAsXML(model *dmr.Value, w io.Writer) error {
	return persistence.EncodeXML(model, w)
}

// HealthCheck satisfies infrastructure/daemon.Pinger: the memory backend is
// always reachable once constructed.
func (b *Backend) HealthCheck(ctx context.Context) error { return nil }

var _ persistence.Persister = (*Backend)(nil)

// TickerFlush is a best-effort persistence flush callback in the shape
// infrastructure/daemon.AddTickerWorker expects, storing the current model.
func TickerFlush(b *Backend, tree interface{ Snapshot() *dmr.Value }) func(context.Context) error {
	return func(ctx context.Context) error {
		return b.Store(tree.Snapshot())
	}
}
