// Package persistence defines the configuration persister contract shared
// by the memory and xmlfile backends (spec.md §6): store the live model,
// load back the boot operations that reconstruct it, and marshal a model to
// XML on demand. Concrete backends live in the memory and xmlfile
// subpackages so a daemon only imports the one it configures.
package persistence

import (
	"io"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// Persister is the full persistence capability a backend provides. It is a
// superset of internal/controller.Persister (Store alone), so either
// backend wires directly into a controller.Config.Persister without an
// adapter.
type Persister interface {
	// Store durably records model, the full live tree, replacing whatever
	// was stored previously (spec.md §6's "store(model)").
	Store(model *dmr.Value) error

	// Load returns the boot operations that reconstruct the last stored
	// model (spec.md §6's "load() -> list<op>"), or an empty slice if
	// nothing has been stored yet.
	Load() ([]*dmr.Value, error)

	// MarshalAsXML writes model's XML rendition to w (spec.md §6's
	// "marshalAsXml"), independent of whatever encoding a backend actually
	// persists with.
	MarshalAsXML(model *dmr.Value, w io.Writer) error
}

// RestoreOp builds the single synthetic boot operation Load returns: a
// "restore-model" op at the root address carrying the stored snapshot
// wholesale. A daemon's hydrate step applies it directly to the model tree
// with RestoredModel rather than through controller.Execute — at boot the
// registration trie (and so every handler) doesn't exist yet.
func RestoreOp(model *dmr.Value) *dmr.Value {
	op := dmr.Object()
	op.Set("operation", dmr.String("restore-model"))
	op.Set("address", address.Root().ToValue())
	op.Set("model", model)
	return op
}

// RestoredModel extracts the snapshot carried by a RestoreOp, or
// dmr.Undefined() if op isn't one.
func RestoredModel(op *dmr.Value) *dmr.Value {
	if op == nil || op.Get("operation").AsString() != "restore-model" {
		return dmr.Undefined()
	}
	return op.Get("model")
}
