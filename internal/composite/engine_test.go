package composite_test

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/composite"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/envelope"
	"github.com/r3e-network/mgmtctl/internal/handler/builtin"
	"github.com/r3e-network/mgmtctl/internal/model"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alwaysFailsHandler is the "bad" handler of spec.md §8 scenario 2/3: an
// update that always fails, regardless of its operation body.
type alwaysFailsHandler struct{}

func (alwaysFailsHandler) Kind() registry.Kind { return registry.KindUpdate }
func (alwaysFailsHandler) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	sink.Failed("always fails")
}

// slowHandler blocks until cancelled, for the composite cancellation test.
type slowHandler struct{}

func (slowHandler) Kind() registry.Kind { return registry.KindQuery }
func (slowHandler) Invoke(ctx *registry.OperationContext, op *dmr.Value, sink registry.ResultSink) {
	<-ctx.Ctx.Done()
	sink.Cancelled()
}

func newTestEngine(t *testing.T) (*composite.Engine, *model.Tree) {
	t.Helper()
	reg := registry.New()
	root := reg.Root()
	require.NoError(t, root.RegisterOperationHandler("write-attribute", builtin.WriteAttribute{}, nil, true))
	require.NoError(t, root.RegisterOperationHandler("always-fails", alwaysFailsHandler{}, nil, true))
	require.NoError(t, root.RegisterOperationHandler("slow", slowHandler{}, nil, true))

	tree := model.New()
	seed := dmr.Object()
	seed.Set("attr1", dmr.Int(1))
	seed.Set("attr2", dmr.Int(2))
	require.NoError(t, tree.WriteAt(address.Root(), seed, true))

	return composite.New(reg, tree, nil, nil), tree
}

func writeAttrStep(name string, value int32) *dmr.Value {
	op := dmr.Object()
	op.Set("operation", dmr.String("write-attribute"))
	op.Set("address", address.Root().ToValue())
	op.Set("name", dmr.String(name))
	op.Set("value", dmr.Int(value))
	return op
}

func failingStep() *dmr.Value {
	op := dmr.Object()
	op.Set("operation", dmr.String("always-fails"))
	op.Set("address", address.Root().ToValue())
	return op
}

func compositeOp(rollbackOnFailure *bool, steps ...*dmr.Value) *dmr.Value {
	op := dmr.Object()
	op.Set("operation", dmr.String("composite"))
	op.Set("address", address.Root().ToValue())
	list := dmr.List()
	for _, s := range steps {
		list.Add(s)
	}
	op.Set("steps", list)
	if rollbackOnFailure != nil {
		op.Set("rollback-on-runtime-failure", dmr.Bool(*rollbackOnFailure))
	}
	return op
}

// chanSink is a minimal synchronous bridge for driving composite.Engine in
// tests, mirroring ModelController's internal channelSink.
type chanSink struct {
	result chan *dmr.Value
	opCtx  *registry.OperationContext
}

func newChanSink() *chanSink { return &chanSink{result: make(chan *dmr.Value, 1)} }

func (s *chanSink) SetOpCtx(ctx *registry.OperationContext) { s.opCtx = ctx }
func (s *chanSink) Fragment(location []string, value *dmr.Value) {}
func (s *chanSink) Complete(compensatingOp *dmr.Value) {
	result := dmr.Undefined()
	if s.opCtx != nil {
		result = s.opCtx.Submodel
	}
	s.result <- envelope.Success(result, compensatingOp)
}
func (s *chanSink) Failed(description string) { s.result <- envelope.Failed(description) }
func (s *chanSink) Cancelled()                { s.result <- envelope.Cancelled() }

func executeComposite(t *testing.T, e *composite.Engine, op *dmr.Value) *dmr.Value {
	t.Helper()
	sink := newChanSink()
	e.Dispatch(context.Background(), op, sink)
	select {
	case env := <-sink.result:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for composite result")
		return nil
	}
}

func TestGoodCompositeSucceedsAndMergesInOrder(t *testing.T) {
	e, tree := newTestEngine(t)
	op := compositeOp(nil, writeAttrStep("attr1", 2), writeAttrStep("attr2", 1))

	env := executeComposite(t, e, op)
	require.True(t, envelope.IsSuccess(env), "outcome: %s", envelope.Outcome(env))

	result := env.Get("result")
	assert.True(t, envelope.IsSuccess(result.Get("step-1")))
	assert.True(t, envelope.IsSuccess(result.Get("step-2")))

	snap := tree.Snapshot()
	assert.Equal(t, int32(2), snap.Get("attr1").AsInt())
	assert.Equal(t, int32(1), snap.Get("attr2").AsInt())

	comp := envelope.CompensatingOperation(env)
	assert.Equal(t, "composite", comp.Get("operation").AsString())
	assert.False(t, comp.Get("rollback-on-runtime-failure").AsBool())
	compSteps := comp.Get("steps").AsList()
	require.Len(t, compSteps, 2)
	assert.Equal(t, "attr2", compSteps[0].Get("name").AsString())
	assert.Equal(t, int32(2), compSteps[0].Get("value").AsInt())
	assert.Equal(t, "attr1", compSteps[1].Get("name").AsString())
	assert.Equal(t, int32(1), compSteps[1].Get("value").AsInt())
}

func TestFailureWithRollbackLeavesModelUnchanged(t *testing.T) {
	e, tree := newTestEngine(t)
	op := compositeOp(nil, writeAttrStep("attr1", 2), failingStep())

	env := executeComposite(t, e, op)
	assert.Equal(t, envelope.OutcomeFailed, envelope.Outcome(env))

	snap := tree.Snapshot()
	assert.Equal(t, int32(1), snap.Get("attr1").AsInt())
	assert.Equal(t, int32(2), snap.Get("attr2").AsInt())
}

func TestFailureWithoutRollbackAppliesPartialProgress(t *testing.T) {
	e, tree := newTestEngine(t)
	noRollback := false
	op := compositeOp(&noRollback, writeAttrStep("attr1", 2), failingStep())

	env := executeComposite(t, e, op)
	assert.Equal(t, envelope.OutcomeFailed, envelope.Outcome(env))

	snap := tree.Snapshot()
	assert.Equal(t, int32(2), snap.Get("attr1").AsInt())
	assert.Equal(t, int32(2), snap.Get("attr2").AsInt())
}

func TestStepAfterFailureIsRecordedCancelledNotExecuted(t *testing.T) {
	e, tree := newTestEngine(t)
	op := compositeOp(nil, failingStep(), writeAttrStep("attr2", 99))

	env := executeComposite(t, e, op)
	assert.Equal(t, envelope.OutcomeFailed, envelope.Outcome(env))

	// the second step must never have run: attr2 keeps its original value.
	snap := tree.Snapshot()
	assert.Equal(t, int32(2), snap.Get("attr2").AsInt())
}

func TestEmptyStepsListFails(t *testing.T) {
	e, _ := newTestEngine(t)
	op := compositeOp(nil)

	env := executeComposite(t, e, op)
	assert.Equal(t, envelope.OutcomeFailed, envelope.Outcome(env))
}

func TestCancelDiscardsWorkingModel(t *testing.T) {
	e, tree := newTestEngine(t)
	slow := dmr.Object()
	slow.Set("operation", dmr.String("slow"))
	slow.Set("address", address.Root().ToValue())
	op := compositeOp(nil, slow)

	sink := newChanSink()
	h := e.Dispatch(context.Background(), op, sink)
	h.Cancel()

	select {
	case env := <-sink.result:
		assert.Equal(t, envelope.OutcomeCancelled, envelope.Outcome(env))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation terminal")
	}

	snap := tree.Snapshot()
	assert.Equal(t, int32(1), snap.Get("attr1").AsInt())
}
