package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/mgmtctl/infrastructure/ratelimit"
	"github.com/r3e-network/mgmtctl/infrastructure/resilience"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/r3e-network/mgmtctl/internal/wire"
)

// Remote forwards to an out-of-process controller over a wire.Conn
// (spec.md §4.5's EXECUTE_ASYNCHRONOUS exchange). Every forward is wrapped
// in a circuit breaker and a request-rate limiter so a degraded or chatty
// host controller can't wedge or overload the domain controller's dispatch
// path.
type Remote struct {
	HandlerID byte

	conn    *wire.Conn
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.RateLimiter

	// callMu serializes whole request/response exchanges on the shared
	// connection: frames of an EXECUTE_ASYNCHRONOUS response carry no
	// per-request correlation id beyond the initial optional notice, so
	// two forwards in flight at once could not tell their fragments
	// apart. This trades concurrency for correctness on a single remote
	// connection; a host with enough proxied traffic to need more than
	// one in-flight forward should dial more than one connection.
	callMu sync.Mutex
}

// NewRemote wraps conn as a remote proxy controller addressed at handlerID.
// breaker/limiter default to resilience.DefaultConfig()/ratelimit.DefaultConfig()
// when nil, so callers that don't need custom tuning can pass zero values.
func NewRemote(conn *wire.Conn, handlerID byte, breaker *resilience.CircuitBreaker, limiter *ratelimit.RateLimiter) *Remote {
	if breaker == nil {
		breaker = resilience.New(resilience.DefaultConfig())
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	return &Remote{HandlerID: handlerID, conn: conn, breaker: breaker, limiter: limiter}
}

// Forward sends rebasedOp as an EXECUTE_ASYNCHRONOUS request and relays the
// response sequence to sink. A circuit-open or rate-limited connection
// fails the operation immediately rather than blocking the caller's
// dispatch goroutine on a stuck socket.
func (p *Remote) Forward(rebasedOp *dmr.Value, sink registry.ResultSink) {
	if !p.limiter.Allow() {
		sink.Failed("proxy: remote connection rate limit exceeded")
		return
	}

	p.callMu.Lock()
	err := p.breaker.Execute(context.Background(), func() error {
		return wire.WriteOperationRequest(p.conn, p.HandlerID, wire.CodeExecuteAsynchronous, rebasedOp)
	})
	if err != nil {
		p.callMu.Unlock()
		sink.Failed(fmt.Sprintf("proxy: forward request: %v", err))
		return
	}

	go func() {
		defer p.callMu.Unlock()
		p.relay(sink)
	}()
}

// relay reads the EXECUTE_ASYNCHRONOUS response sequence off the
// connection and replays it onto sink until a terminal frame arrives.
func (p *Remote) relay(sink registry.ResultSink) {
	for {
		frame, err := wire.ReadAsyncFrame(p.conn)
		if err != nil {
			sink.Failed(fmt.Sprintf("proxy: remote connection: %v", err))
			return
		}
		switch frame.Code {
		case wire.CodeRequestID:
			// Informational only — this side has no local request to
			// correlate it with; the connection itself is the unit of
			// in-flight tracking for a forwarded operation.
			continue
		case wire.CodeHandleResultFrag:
			sink.Fragment(frame.Location, frame.Value)
		case wire.CodeHandleResultComplete:
			sink.Complete(frame.Value)
			return
		case wire.CodeHandleResultFailed:
			sink.Failed(frame.Failure)
			return
		case wire.CodeHandleCancellation:
			sink.Cancelled()
			return
		}
	}
}

var _ registry.ProxyController = (*Remote)(nil)
