// Package controller implements the model controller core: the dispatch
// algorithm that routes an operation to a proxy, the composite engine, or
// a registered handler, and the bookkeeping around submodel construction,
// write-back and best-effort persistence (spec.md §4.1).
package controller

import (
	"context"

	mgmterrors "github.com/r3e-network/mgmtctl/infrastructure/errors"
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// CompositeEngine is the multi-step engine a composite operation (address
// empty, operation "composite") is delegated to (spec.md §4.1 step 3).
// Dispatch never imports internal/composite directly — it is injected, so
// the dependency runs one way: internal/composite imports
// internal/controller, not the reverse.
type CompositeEngine interface {
	Dispatch(ctx context.Context, op *dmr.Value, sink registry.ResultSink) OperationHandle
}

// Deps bundles what Dispatch needs to resolve, execute and apply a single
// operation. Target/Persister/Composite vary between a ModelController
// (live tree, real persister) and the composite engine's per-step
// execution (working-model clone, nil persister, the engine itself so
// nested composites work).
type Deps struct {
	Registry  *registry.Registry
	Target    ModelAccessor
	Persister Persister
	Composite CompositeEngine
	Logger    warnLogger
}

// Dispatch implements the model controller's dispatch algorithm (spec.md
// §4.1, steps 1-8) against deps. Both ModelController.Execute/ExecuteAsync
// and the composite engine's per-step execution call this, so proxying,
// handler lookup and write-back semantics are identical at either level.
func Dispatch(ctx context.Context, deps Deps, op *dmr.Value, sink registry.ResultSink) OperationHandle {
	dctx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	bound := newBoundSink(sink, h)
	go watchCancellation(dctx, bound)

	// Step 1: parse op.address into a path address.
	addr, err := address.FromValue(op.Get("address"))
	if err != nil {
		bound.Failed(mgmterrors.InvalidOperationFormat(err.Error()).Error())
		return h
	}
	opName := op.Get("operation").AsString()
	if opName == "" {
		bound.Failed(mgmterrors.InvalidOperationFormat(`operation missing its "operation" field`).Error())
		return h
	}

	// Step 2: proxy forwarding — transparent and recursive at the
	// controller boundary. The rebased address is relative to the proxy's
	// anchor; the proxy may itself be another controller's Dispatch.
	if proxy, anchor, ok := deps.Registry.ProxyOwning(addr); ok {
		rebased := op.Clone()
		rebased.Set("address", addr.RelativeTo(anchor).ToValue())
		proxy.Forward(rebased, bound)
		return h
	}

	// Step 3: root-level composite delegation.
	if addr.Len() == 0 && opName == "composite" {
		if deps.Composite == nil {
			bound.Failed(mgmterrors.InvalidOperationFormat("no composite engine configured for this controller").Error())
			return h
		}
		return deps.Composite.Dispatch(dctx, op, bound)
	}

	// Step 4: handler lookup.
	h2, ok := deps.Registry.HandlerFor(addr, opName)
	if !ok {
		bound.Failed(mgmterrors.NoSuchHandler(deps.Registry.Location(addr), opName).Error())
		return h
	}

	// Steps 5-6: submodel view + OperationContext, then invoke.
	opCtx, write, err := buildContext(dctx, deps.Registry, deps.Target, addr, h2.Kind(), op)
	if err != nil {
		bound.Failed(err.Error())
		return h
	}

	// A sink that wants the final submodel as its envelope's "result"
	// (e.g. ModelController.Execute's channelSink, or the composite
	// engine's per-step sink) opts in to this.
	if carrier, ok := sink.(SubmodelCarrier); ok {
		carrier.SetOpCtx(opCtx)
	}

	wSink := &writebackSink{
		bound:     bound,
		target:    deps.Target,
		persister: deps.Persister,
		logger:    deps.Logger,
		kind:      h2.Kind(),
		write:     write,
	}

	invokeHandler(h2, opCtx, op, wSink)

	return h
}

// SubmodelCarrier is an opt-in protocol a sink can implement to receive
// the OperationContext built for it, so it can read the final submodel as
// its envelope's "result" once the handler terminates (spec.md §3's
// result envelope reports the submodel an update/add/query leaves
// behind; the wire dispatcher's asynchronous sink doesn't implement it since
// it streams fragments directly and describes its own result shape, and the
// gateway runs operations through Execute, whose channelSink implements it).
// Exported so internal/composite's per-step sink can implement it too.
type SubmodelCarrier interface {
	SetOpCtx(ctx *registry.OperationContext)
}

// invokeHandler runs h.Invoke, converting a panic into a handler-threw
// failure (spec.md §4.1 step 8 and §7's handler-threw kind) instead of
// tearing down the controller.
func invokeHandler(h registry.Handler, ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	defer func() {
		if r := recover(); r != nil {
			sink.Failed(mgmterrors.HandlerThrew(r).Error())
		}
	}()
	h.Invoke(ctx, op, sink)
}

// watchCancellation delivers a Cancelled terminal if ctx is cancelled
// before the dispatch otherwise terminates (spec.md §5: "a cancelled
// handler must invoke the cancelled terminal").
func watchCancellation(ctx context.Context, bound *boundSink) {
	select {
	case <-ctx.Done():
		bound.Cancelled()
	case <-bound.Done():
	}
}

// buildContext constructs the submodel view for kind (spec.md §4.1 step 5)
// and returns the OperationContext plus a write closure implementing step
// 7's write-back, specialized per kind.
func buildContext(ctx context.Context, reg *registry.Registry, target ModelAccessor, addr address.Address, kind registry.Kind, op *dmr.Value) (*registry.OperationContext, func() error, error) {
	switch kind {
	case registry.KindAdd:
		if target.Exists(addr) {
			return nil, nil, mgmterrors.AddressConflict(addr.String() + " already exists")
		}
		if parent := addr.Parent(); parent.Len() > 0 && !target.Exists(parent) {
			return nil, nil, mgmterrors.AddressConflict("missing ancestor at " + parent.String())
		}
		submodel := dmr.Object()
		opCtx := &registry.OperationContext{Submodel: submodel, Address: addr, Registry: reg, Ctx: ctx}
		return opCtx, func() error { return target.WriteAt(addr, opCtx.Submodel, true) }, nil

	case registry.KindRemove:
		if !target.Exists(addr) {
			return nil, nil, mgmterrors.AddressConflict(addr.String() + " does not exist")
		}
		submodel := target.Read(addr)
		opCtx := &registry.OperationContext{Submodel: submodel, Address: addr, Registry: reg, Ctx: ctx}
		return opCtx, func() error { return target.DeleteAt(addr) }, nil

	case registry.KindUpdate:
		submodel := target.Read(addr)
		opCtx := &registry.OperationContext{Submodel: submodel, Address: addr, Registry: reg, Ctx: ctx}
		return opCtx, func() error { return target.WriteAt(addr, opCtx.Submodel, false) }, nil

	default: // registry.KindQuery
		submodel := target.Read(addr)
		opCtx := &registry.OperationContext{Submodel: submodel, Address: addr, Registry: reg, Ctx: ctx}
		return opCtx, func() error { return nil }, nil
	}
}
