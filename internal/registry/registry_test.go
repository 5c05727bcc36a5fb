package registry

import (
	"testing"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	kind Kind
	tag  string
}

func (f fakeHandler) Kind() Kind { return f.kind }
func (f fakeHandler) Invoke(ctx *OperationContext, op *dmr.Value, sink ResultSink) {
	sink.Complete(dmr.Undefined())
}

type fakeProxy struct{ forwarded *dmr.Value }

func (p *fakeProxy) Forward(op *dmr.Value, sink ResultSink) {
	p.forwarded = op
	sink.Complete(dmr.Undefined())
}

func webAddr() address.Address {
	return address.New(address.Element{Key: "subsystem", Value: "web"})
}

func TestHandlerForExactMatchWinsOverInherited(t *testing.T) {
	r := New()
	root := r.Root()
	require.NoError(t, root.RegisterOperationHandler("read-resource", fakeHandler{kind: KindQuery, tag: "root"}, nil, true))

	sub, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)
	require.NoError(t, sub.RegisterOperationHandler("read-resource", fakeHandler{kind: KindQuery, tag: "web"}, nil, false))

	h, ok := r.HandlerFor(webAddr(), "read-resource")
	require.True(t, ok)
	assert.Equal(t, "web", h.(fakeHandler).tag)
}

func TestHandlerForFallsBackToInheritedAncestor(t *testing.T) {
	r := New()
	root := r.Root()
	require.NoError(t, root.RegisterOperationHandler("describe", fakeHandler{kind: KindQuery, tag: "root"}, nil, true))

	sub, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)

	h, ok := r.HandlerFor(sub.Address(), "describe")
	require.True(t, ok)
	assert.Equal(t, "root", h.(fakeHandler).tag)
}

func TestHandlerForNonInheritedDoesNotPropagate(t *testing.T) {
	r := New()
	root := r.Root()
	require.NoError(t, root.RegisterOperationHandler("add", fakeHandler{kind: KindAdd}, nil, false))

	sub, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)

	_, ok := r.HandlerFor(sub.Address(), "add")
	assert.False(t, ok)
}

func TestDuplicateHandlerRejected(t *testing.T) {
	r := New()
	root := r.Root()
	require.NoError(t, root.RegisterOperationHandler("op", fakeHandler{}, nil, false))
	err := root.RegisterOperationHandler("op", fakeHandler{}, nil, false)
	assert.Error(t, err)
}

func TestDuplicateSubModelRejected(t *testing.T) {
	r := New()
	root := r.Root()
	_, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)
	_, err = root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	assert.Error(t, err)
}

func TestProxyAbsorbsSubtree(t *testing.T) {
	r := New()
	root := r.Root()
	host, err := root.RegisterSubModel(address.Element{Key: "host", Value: "A"}, nil)
	require.NoError(t, err)

	p := &fakeProxy{}
	require.NoError(t, host.RegisterProxyController(p))

	deep := address.New(
		address.Element{Key: "host", Value: "A"},
		address.Element{Key: "subsystem", Value: "web"},
	)
	owner, anchor, ok := r.ProxyOwning(deep)
	require.True(t, ok)
	assert.Same(t, p, owner.(*fakeProxy))
	assert.True(t, anchor.Equals(host.Address()))
}

func TestProxyRejectsRegistrationUnderneath(t *testing.T) {
	r := New()
	root := r.Root()
	host, err := root.RegisterSubModel(address.Element{Key: "host", Value: "A"}, nil)
	require.NoError(t, err)
	require.NoError(t, host.RegisterProxyController(&fakeProxy{}))

	_, err = host.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	assert.Error(t, err)
}

func TestProxyRejectedOverExistingChildren(t *testing.T) {
	r := New()
	root := r.Root()
	host, err := root.RegisterSubModel(address.Element{Key: "host", Value: "A"}, nil)
	require.NoError(t, err)
	_, err = host.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)

	err = host.RegisterProxyController(&fakeProxy{})
	assert.Error(t, err)
}

func TestChildNamesAndAddresses(t *testing.T) {
	r := New()
	root := r.Root()
	_, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)
	_, err = root.RegisterSubModel(address.Element{Key: "subsystem", Value: "datasources"}, nil)
	require.NoError(t, err)

	names := r.ChildNames(address.Root())
	assert.ElementsMatch(t, []string{"subsystem"}, names)

	addrs := r.ChildAddresses(address.Root())
	assert.Len(t, addrs, 2)
}

func TestDescriptionAtEvaluatesLazily(t *testing.T) {
	r := New()
	root := r.Root()
	calls := 0
	desc := func() *dmr.Value {
		calls++
		return dmr.String("web subsystem")
	}
	sub, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, desc)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)

	v := r.DescriptionAt(sub.Address())
	assert.Equal(t, "web subsystem", v.AsString())
	assert.Equal(t, 1, calls)
}

func TestUnregisterOperationHandler(t *testing.T) {
	r := New()
	root := r.Root()
	require.NoError(t, root.RegisterOperationHandler("op", fakeHandler{}, nil, false))
	require.NoError(t, root.UnregisterOperationHandler("op"))
	_, ok := r.HandlerFor(address.Root(), "op")
	assert.False(t, ok)
}

func TestWildcardChildMatchesUnregisteredInstance(t *testing.T) {
	r := New()
	root := r.Root()
	sub, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: Wildcard}, nil)
	require.NoError(t, err)
	require.NoError(t, sub.RegisterOperationHandler("add-resource", fakeHandler{kind: KindAdd}, nil, false))

	addr := address.New(address.Element{Key: "subsystem", Value: "brand-new"})
	handler, ok := r.HandlerFor(addr, "add-resource")
	require.True(t, ok)
	assert.Equal(t, KindAdd, handler.Kind())
}

func TestExactChildWinsOverWildcard(t *testing.T) {
	r := New()
	root := r.Root()
	wildcard, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: Wildcard}, nil)
	require.NoError(t, err)
	require.NoError(t, wildcard.RegisterOperationHandler("read-resource", fakeHandler{kind: KindQuery, tag: "wildcard"}, nil, false))

	exact, err := root.RegisterSubModel(address.Element{Key: "subsystem", Value: "web"}, nil)
	require.NoError(t, err)
	require.NoError(t, exact.RegisterOperationHandler("read-resource", fakeHandler{kind: KindQuery, tag: "exact"}, nil, false))

	got, ok := r.HandlerFor(webAddr(), "read-resource")
	require.True(t, ok)
	assert.Equal(t, "exact", got.(fakeHandler).tag)
}

func TestAttributeRegistrationAndLookup(t *testing.T) {
	r := New()
	root := r.Root()
	access := AttributeAccess{
		Read: func(model *dmr.Value) *dmr.Value { return model.Get("port") },
		Storage: "configuration",
	}
	require.NoError(t, root.RegisterAttribute("port", access))

	got, ok := r.AttributeFor(address.Root(), "port")
	require.True(t, ok)
	assert.Equal(t, "configuration", got.Storage)
}
