package controller

import (
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// ModelAccessor is the read/write surface Dispatch needs against a model.
// *model.Tree satisfies it for both the live tree (spec.md §4.1) and a
// composite's cloned working model (spec.md §4.4 step 1), so the same
// dispatch algorithm runs unmodified against either.
type ModelAccessor interface {
	Read(addr address.Address) *dmr.Value
	Exists(addr address.Address) bool
	WriteAt(addr address.Address, value *dmr.Value, createParents bool) error
	DeleteAt(addr address.Address) error
	Snapshot() *dmr.Value
}

// Persister is the narrow capability Dispatch calls after a successful
// mutation (spec.md §6: "store(model)"). A nil Persister skips persistence
// silently — the composite engine uses this for per-step working-model
// writes, so a step's write-back to its cloned working model is never
// persisted on its own.
type Persister interface {
	Store(model *dmr.Value) error
}
