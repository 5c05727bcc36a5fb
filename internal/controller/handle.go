package controller

import (
	"context"
	"sync"

	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// OperationHandle is returned by an asynchronous dispatch: it lets the
// caller cancel the in-flight operation and, after success, read back the
// compensating operation (spec.md §4.1's "execute(op, sink) →
// OperationHandle").
type OperationHandle interface {
	Cancel()
	CompensatingOperation() *dmr.Value
}

// handle is the concrete OperationHandle backing a single dispatch. Cancel
// propagates through a context.CancelFunc, which is already idempotent and
// non-blocking (spec.md §5's requirement on cancel()).
type handle struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	comp *dmr.Value
}

func newHandle(cancel context.CancelFunc) *handle {
	return &handle{cancel: cancel, comp: dmr.Undefined()}
}

func (h *handle) Cancel() { h.cancel() }

func (h *handle) setCompensating(op *dmr.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.comp = op
}

func (h *handle) CompensatingOperation() *dmr.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.comp
}

var _ OperationHandle = (*handle)(nil)
