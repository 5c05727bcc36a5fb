package controller

import (
	"context"
	"sync"

	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// boundSink wraps a caller-supplied registry.ResultSink, enforcing
// spec.md §4.3's "a handler must eventually invoke exactly one of
// complete/failed/cancelled" contract: a second terminal call is dropped
// rather than forwarded, and it records the compensating operation onto h
// for OperationHandle.CompensatingOperation.
type boundSink struct {
	inner registry.ResultSink
	h     *handle

	once sync.Once
	done chan struct{}
}

func newBoundSink(inner registry.ResultSink, h *handle) *boundSink {
	return &boundSink{inner: inner, h: h, done: make(chan struct{})}
}

func (s *boundSink) Fragment(location []string, value *dmr.Value) {
	select {
	case <-s.done:
		return
	default:
	}
	s.inner.Fragment(location, value)
}

func (s *boundSink) Complete(compensatingOp *dmr.Value) {
	s.once.Do(func() {
		if compensatingOp == nil {
			compensatingOp = dmr.Undefined()
		}
		s.h.setCompensating(compensatingOp)
		s.inner.Complete(compensatingOp)
		close(s.done)
	})
}

func (s *boundSink) Failed(description string) {
	s.once.Do(func() {
		s.inner.Failed(description)
		close(s.done)
	})
}

func (s *boundSink) Cancelled() {
	s.once.Do(func() {
		s.inner.Cancelled()
		close(s.done)
	})
}

// Done reports whether a terminal signal has already been delivered.
func (s *boundSink) Done() <-chan struct{} { return s.done }

var _ registry.ResultSink = (*boundSink)(nil)

// warnLogger is the narrow logging capability writebackSink needs for a
// persistence-warning (spec.md §7's "persistence-warning — non-fatal;
// logged; not surfaced"); satisfied directly by *infrastructure/logging.Logger.
type warnLogger interface {
	Warn(ctx context.Context, message string, fields map[string]interface{})
}

// writebackSink is the sink actually handed to a Handler. On Complete, it
// performs spec.md §4.1 step 7's model write-back and best-effort
// persistence before forwarding the terminal signal to bound — this keeps
// writeback correctly ordered relative to asynchronous handlers, which may
// call Complete from a goroutine long after Invoke returns.
type writebackSink struct {
	bound *boundSink

	target    ModelAccessor
	persister Persister
	logger    warnLogger
	kind      registry.Kind

	// write applies the handler's submodel back to target at the
	// operation's address, per kind (add/update/remove write differently;
	// query is a no-op at this layer).
	write func() error
}

func (s *writebackSink) Fragment(location []string, value *dmr.Value) {
	s.bound.Fragment(location, value)
}

func (s *writebackSink) Complete(compensatingOp *dmr.Value) {
	if err := s.write(); err != nil {
		s.bound.Failed(err.Error())
		return
	}
	if s.persister != nil {
		if err := s.persister.Store(s.target.Snapshot()); err != nil && s.logger != nil {
			s.logger.Warn(context.Background(), "persistence failed after operation", map[string]interface{}{
				"kind":  s.kind.String(),
				"error": err.Error(),
			})
		}
	}
	s.bound.Complete(compensatingOp)
}

func (s *writebackSink) Failed(description string) { s.bound.Failed(description) }
func (s *writebackSink) Cancelled()                { s.bound.Cancelled() }

var _ registry.ResultSink = (*writebackSink)(nil)
