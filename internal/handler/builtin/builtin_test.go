package builtin

import (
	"testing"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	fragments [][2]any
	outcome   string
	comp      *dmr.Value
	failure   string
}

func (s *recordingSink) Fragment(location []string, value *dmr.Value) {
	s.fragments = append(s.fragments, [2]any{location, value})
}
func (s *recordingSink) Complete(comp *dmr.Value) { s.outcome = "success"; s.comp = comp }
func (s *recordingSink) Failed(desc string)       { s.outcome = "failed"; s.failure = desc }
func (s *recordingSink) Cancelled()               { s.outcome = "cancelled" }

func webAddr() address.Address {
	return address.New(address.Element{Key: "subsystem", Value: "web"})
}

func TestReadResourceNonRecursiveOmitsChildren(t *testing.T) {
	submodel := dmr.Object()
	submodel.Set("port", dmr.Int(8080))
	submodel.Set("handler", dmr.Object()) // nested resource

	ctx := &registry.OperationContext{Submodel: submodel, Address: webAddr()}
	op := dmr.Object()
	op.Set("operation", dmr.String("read-resource"))

	sink := &recordingSink{}
	ReadResource{}.Invoke(ctx, op, sink)

	assert.Equal(t, "success", sink.outcome)
	assert.True(t, ctx.Submodel.Has("port"))
	assert.False(t, ctx.Submodel.Has("handler"))
}

func TestWriteAttributeProducesCompensatingOp(t *testing.T) {
	submodel := dmr.Object()
	submodel.Set("attr1", dmr.Int(1))

	ctx := &registry.OperationContext{Submodel: submodel, Address: address.Root()}
	op := dmr.Object()
	op.Set("name", dmr.String("attr1"))
	op.Set("value", dmr.Int(2))

	sink := &recordingSink{}
	WriteAttribute{}.Invoke(ctx, op, sink)

	require.Equal(t, "success", sink.outcome)
	assert.Equal(t, int32(2), ctx.Submodel.Get("attr1").AsInt())
	assert.Equal(t, "write-attribute", sink.comp.Get("operation").AsString())
	assert.Equal(t, int32(1), sink.comp.Get("value").AsInt())
}

func TestAddResourceCopiesAttributesAndCompensatesWithRemove(t *testing.T) {
	ctx := &registry.OperationContext{Submodel: dmr.Undefined(), Address: webAddr()}
	op := dmr.Object()
	op.Set("operation", dmr.String("add-resource"))
	op.Set("address", dmr.List())
	op.Set("port", dmr.Int(9990))

	sink := &recordingSink{}
	AddResource{}.Invoke(ctx, op, sink)

	require.Equal(t, "success", sink.outcome)
	assert.Equal(t, int32(9990), ctx.Submodel.Get("port").AsInt())
	assert.Equal(t, "remove-resource", sink.comp.Get("operation").AsString())
}

func TestRemoveResourceCompensatesWithAddCarryingPriorAttributes(t *testing.T) {
	submodel := dmr.Object()
	submodel.Set("port", dmr.Int(9990))

	ctx := &registry.OperationContext{Submodel: submodel, Address: webAddr()}
	sink := &recordingSink{}
	RemoveResource{}.Invoke(ctx, dmr.Object(), sink)

	require.Equal(t, "success", sink.outcome)
	assert.Equal(t, "add-resource", sink.comp.Get("operation").AsString())
	assert.Equal(t, int32(9990), sink.comp.Get("port").AsInt())
}
