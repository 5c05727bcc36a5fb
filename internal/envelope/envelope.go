// Package envelope builds the result envelope every operation terminates
// with: an ordered structured value carrying outcome, result, an optional
// failure description, an optional compensating operation, and a
// composite-only rolled-back flag (spec.md §3's "Result Envelope").
package envelope

import "github.com/r3e-network/mgmtctl/internal/dmr"

const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Success builds a success envelope. compensatingOp may be dmr.Undefined()
// when the operation has no meaningful undo (e.g. a query).
func Success(result *dmr.Value, compensatingOp *dmr.Value) *dmr.Value {
	env := dmr.Object()
	env.Set("outcome", dmr.String(OutcomeSuccess))
	env.Set("result", result)
	env.Set("compensating-operation", compensatingOp)
	return env
}

// Failed builds a failed envelope carrying description as
// failure-description (spec.md §3 lists this key only when failed).
func Failed(description string) *dmr.Value {
	env := dmr.Object()
	env.Set("outcome", dmr.String(OutcomeFailed))
	env.Set("result", dmr.Undefined())
	env.Set("failure-description", dmr.String(description))
	return env
}

// Cancelled builds a cancelled envelope.
func Cancelled() *dmr.Value {
	env := dmr.Object()
	env.Set("outcome", dmr.String(OutcomeCancelled))
	env.Set("result", dmr.Undefined())
	return env
}

// WithRolledBack sets the composite-only rolled-back flag on env and
// returns it.
func WithRolledBack(env *dmr.Value, rolledBack bool) *dmr.Value {
	env.Set("rolled-back", dmr.Bool(rolledBack))
	return env
}

// Outcome returns the outcome field of env, or "" if env is not an
// envelope.
func Outcome(env *dmr.Value) string {
	if env == nil || !env.Has("outcome") {
		return ""
	}
	return env.Get("outcome").AsString()
}

// IsSuccess reports whether env's outcome is success.
func IsSuccess(env *dmr.Value) bool { return Outcome(env) == OutcomeSuccess }

// CompensatingOperation returns env's compensating-operation field, which
// may be dmr.Undefined().
func CompensatingOperation(env *dmr.Value) *dmr.Value {
	if env == nil {
		return dmr.Undefined()
	}
	return env.Get("compensating-operation")
}

// FailureDescription returns env's failure-description field, or "" if
// absent.
func FailureDescription(env *dmr.Value) string {
	if env == nil || !env.Has("failure-description") {
		return ""
	}
	return env.Get("failure-description").AsString()
}
