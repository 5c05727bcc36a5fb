// Package model implements the live configuration model tree: a single
// structured value of object shape, navigated by path addresses, mutated
// under one exclusive lock per spec.md §3's "Model Tree" invariant.
package model

import (
	"fmt"
	"sync"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// Tree is the mutex-guarded live model. The zero value is not usable; use
// New.
type Tree struct {
	mu   sync.Mutex
	root *dmr.Value
}

// New returns an empty Tree rooted at a fresh object value.
func New() *Tree {
	return &Tree{root: dmr.Object()}
}

// NewFrom returns a Tree rooted at root, taking ownership of it. Used by
// the composite engine to wrap a cloned working model (spec.md §4.4 step
// 1) in the same mutex-guarded navigation the live tree offers, without
// sharing state with the tree it was cloned from.
func NewFrom(root *dmr.Value) *Tree {
	if root == nil {
		root = dmr.Object()
	}
	return &Tree{root: root}
}

// navigate walks root following addr's (key,value) pairs, i.e.
// model[k1][v1][k2][v2]… per spec.md §3. It never returns nil: following
// dmr.Value.Get's auto-vivify semantics, an undefined node on the way is
// turned into an object in place, so walking a missing address creates its
// ancestors and ends on a fresh undefined leaf; an intermediate node of any
// other non-object kind yields a detached undefined value. Must be called
// with mu held.
func navigate(root *dmr.Value, addr address.Address) *dmr.Value {
	cur := root
	for _, e := range addr.Elements() {
		cur = cur.Get(e.Key).Get(e.Value)
	}
	return cur
}

// Read returns a deep clone of the node at addr, taken under the tree
// lock, per spec.md §4.1 step 5's query submodel construction. An address
// that does not exist yields an undefined value and leaves the tree as it
// was.
func (t *Tree) Read(addr address.Address) *dmr.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exists(addr) {
		return dmr.Undefined()
	}
	return navigate(t.root, addr).Clone()
}

// Exists reports whether addr resolves to a defined node.
func (t *Tree) Exists(addr address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exists(addr)
}

// exists must be called with mu held.
func (t *Tree) exists(addr address.Address) bool {
	cur := t.root
	for _, e := range addr.Elements() {
		if !cur.Has(e.Key) {
			return false
		}
		typeNode := cur.Get(e.Key)
		if !typeNode.Has(e.Value) {
			return false
		}
		cur = typeNode.Get(e.Value)
	}
	return true
}

// WriteAt replaces the node at addr with value. All ancestors must already
// exist per spec.md §4.1 step 7 ("must already exist" for update; "creating
// parents as needed" for add — callers distinguish via createParents).
func (t *Tree) WriteAt(addr address.Address, value *dmr.Value, createParents bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := addr.Last()
	if !ok {
		t.root = value.Clone()
		return nil
	}
	parent := addr.Parent()
	if !createParents && !t.exists(parent) && parent.Len() > 0 {
		return fmt.Errorf("model: missing ancestor at %s", parent)
	}
	node := navigate(t.root, parent)
	typeNode := node.Get(last.Key)
	typeNode.Set(last.Value, value.Clone())
	return nil
}

// DeleteAt removes the terminal element of addr, per spec.md §4.1 step 7's
// remove semantics. A no-op if the address does not exist.
func (t *Tree) DeleteAt(addr address.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := addr.Last()
	if !ok {
		t.root = dmr.Object()
		return nil
	}
	if !t.exists(addr) {
		return nil
	}
	parent := navigate(t.root, addr.Parent())
	parent.Get(last.Key).Remove(last.Value)
	return nil
}

// Snapshot returns a deep clone of the entire tree, e.g. for a composite's
// working-model clone (spec.md §4.4 step 1) or a full-model persistence
// pass.
func (t *Tree) Snapshot() *dmr.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Clone()
}

// Merge replaces the live tree with working wholesale, under the tree
// mutex. Used by the composite engine to commit a working model atomically
// (spec.md §4.4 step 3).
func (t *Tree) Merge(working *dmr.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = working.Clone()
}

// WithLock runs fn with the tree mutex held and the live root passed in,
// for composite callers that need read-modify-write atomicity spanning
// several navigate/exists calls. fn must not retain root past the call.
func (t *Tree) WithLock(fn func(root *dmr.Value)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.root)
}
