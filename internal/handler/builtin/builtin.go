// Package builtin provides the generic operation handlers every node in
// the model gets by inheritance, unless a more specific handler is
// registered at a node (spec.md §4.2's inherited-handler lookup):
// read-resource, add-resource, remove-resource and write-attribute.
package builtin

import (
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// ReadResource implements the default query handler. Non-recursive reads
// (the HTTP gateway's default, spec.md §6) return only attribute values;
// recursive=true returns the full submodel including nested children.
type ReadResource struct{}

func (ReadResource) Kind() registry.Kind { return registry.KindQuery }

func (ReadResource) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	recursive := op.Get("recursive").AsBool()
	if recursive {
		sink.Complete(dmr.Undefined())
		return
	}
	out := dmr.Object()
	for _, key := range ctx.Submodel.Keys() {
		child := ctx.Submodel.Get(key)
		if child.Kind() == dmr.KindObject {
			continue // nested resource, omitted unless recursive
		}
		out.Set(key, child)
	}
	ctx.Submodel = out
	sink.Complete(dmr.Undefined())
}

// WriteAttribute implements the default update handler: sets op.name to
// op.value on the submodel and produces a compensating write-attribute
// restoring the prior value (spec.md §4.4 item 4 needs this for rollback).
type WriteAttribute struct{}

func (WriteAttribute) Kind() registry.Kind { return registry.KindUpdate }

func (WriteAttribute) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	name := op.Get("name").AsString()
	if name == "" {
		sink.Failed("write-attribute requires a name")
		return
	}
	newValue := op.Get("value")
	oldValue := ctx.Submodel.Get(name).Clone()
	ctx.Submodel.Set(name, newValue.Clone())

	comp := dmr.Object()
	comp.Set("operation", dmr.String("write-attribute"))
	comp.Set("address", ctx.Address.ToValue())
	comp.Set("name", dmr.String(name))
	comp.Set("value", oldValue)
	sink.Complete(comp)
}

// AddResource implements the default add handler: every operation key
// other than operation/address/steps/rollback-on-runtime-failure becomes an
// attribute of the new resource. Compensating op is remove-resource at the same address.
type AddResource struct{}

func (AddResource) Kind() registry.Kind { return registry.KindAdd }

func (AddResource) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	for _, key := range op.Keys() {
		switch key {
		case "operation", "address", "steps", "rollback-on-runtime-failure":
			continue
		}
		ctx.Submodel.Set(key, op.Get(key).Clone())
	}
	comp := dmr.Object()
	comp.Set("operation", dmr.String("remove-resource"))
	comp.Set("address", ctx.Address.ToValue())
	sink.Complete(comp)
}

// RemoveResource implements the default remove handler. The engine gives
// it a read-only snapshot of the node being removed (rather than a literal
// null submodel) so a compensating add-resource can be reconstructed,
// carrying the prior attribute values forward (needed for spec.md §8
// invariant 4).
type RemoveResource struct{}

func (RemoveResource) Kind() registry.Kind { return registry.KindRemove }

func (RemoveResource) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	comp := dmr.Object()
	comp.Set("operation", dmr.String("add-resource"))
	comp.Set("address", ctx.Address.ToValue())
	for _, key := range ctx.Submodel.Keys() {
		comp.Set(key, ctx.Submodel.Get(key).Clone())
	}
	sink.Complete(comp)
}
