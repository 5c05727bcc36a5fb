package composite

import (
	"sync"

	"github.com/r3e-network/mgmtctl/internal/controller"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/envelope"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// stepSink captures a single step's terminal signal and blocks the
// engine's sequential loop until it arrives (spec.md §4.4: "a step's
// terminal signal is captured via a per-step sink that forwards to the
// composite's state"). It implements controller.SubmodelCarrier so its
// envelope's "result" is the step handler's final submodel, the same
// convention ModelController.Execute uses at the top level.
type stepSink struct {
	done chan struct{}
	once sync.Once

	opCtx   *registry.OperationContext
	outcome string
	desc    string
	comp    *dmr.Value
}

func newStepSink() *stepSink {
	return &stepSink{done: make(chan struct{})}
}

func (s *stepSink) SetOpCtx(ctx *registry.OperationContext) { s.opCtx = ctx }

func (s *stepSink) Fragment(location []string, value *dmr.Value) {}

func (s *stepSink) Complete(compensatingOp *dmr.Value) {
	s.once.Do(func() {
		s.outcome = envelope.OutcomeSuccess
		s.comp = compensatingOp
		close(s.done)
	})
}

func (s *stepSink) Failed(description string) {
	s.once.Do(func() {
		s.outcome = envelope.OutcomeFailed
		s.desc = description
		close(s.done)
	})
}

func (s *stepSink) Cancelled() {
	s.once.Do(func() {
		s.outcome = envelope.OutcomeCancelled
		close(s.done)
	})
}

// toEnvelope builds this step's result envelope once its terminal has fired.
func (s *stepSink) toEnvelope() *dmr.Value {
	switch s.outcome {
	case envelope.OutcomeSuccess:
		result := dmr.Undefined()
		if s.opCtx != nil {
			result = s.opCtx.Submodel
		}
		return envelope.Success(result, s.comp)
	case envelope.OutcomeCancelled:
		return envelope.Cancelled()
	default:
		return envelope.Failed(s.desc)
	}
}

var (
	_ registry.ResultSink        = (*stepSink)(nil)
	_ controller.SubmodelCarrier = (*stepSink)(nil)
)
