// Package proxy implements registry.ProxyController: the transparent
// subtree delegation a proxy-registered node absorbs (spec.md glossary
// "Proxy controller"). Local wraps another in-process controller; Remote
// wraps a wire-protocol connection to an out-of-process one.
package proxy

import (
	"context"

	"github.com/r3e-network/mgmtctl/internal/controller"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// Local forwards to another ModelController running in the same process,
// proxying a submodel without a network round trip. No package in this
// module constructs one.
type Local struct {
	Controller *controller.ModelController
}

// NewLocal wraps ctrl as a local proxy controller.
func NewLocal(ctrl *controller.ModelController) *Local {
	return &Local{Controller: ctrl}
}

// Forward dispatches rebasedOp against the wrapped controller
// asynchronously; there is no network round trip to bound with a caller
// context, so it runs detached (spec.md §4.1 step 2: proxy forwarding is
// transparent — the caller sees the same sink contract either way).
func (p *Local) Forward(rebasedOp *dmr.Value, sink registry.ResultSink) {
	p.Controller.ExecuteAsync(context.Background(), rebasedOp, sink)
}

var _ registry.ProxyController = (*Local)(nil)
