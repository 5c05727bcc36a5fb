// Package dispatcher implements the server side of the async wire protocol
// (spec.md §4.5): it reads framed requests off a connection, drives them
// through a controller.ModelController, and streams results back. An
// integer counter issues request ids; a map from request id to cancellation
// handle is pruned on terminal, mirroring infrastructure/cache.Cache's
// ticking-cleanup shape but pruned eagerly on terminal signal instead of on
// a TTL tick, since a request's lifetime is bounded by its own completion
// rather than by elapsed time.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/r3e-network/mgmtctl/infrastructure/logging"
	"github.com/r3e-network/mgmtctl/internal/controller"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/proxy"
	"github.com/r3e-network/mgmtctl/internal/registry"
	"github.com/r3e-network/mgmtctl/internal/wire"
)

// Dispatcher serves one or more wire.Conns against a single
// controller.ModelController. Federation is nil on a host controller's
// dispatcher, which never receives REGISTER/UNREGISTER_HOST_CONTROLLER.
type Dispatcher struct {
	Controller *controller.ModelController
	HandlerID  byte
	Federation *proxy.Manager
	Logger     *logging.Logger

	mu            sync.Mutex
	nextRequestID uint32
	pending       map[uint32]controller.OperationHandle
}

// New builds a Dispatcher over ctrl, answering only handlerID.
func New(ctrl *controller.ModelController, handlerID byte, federation *proxy.Manager, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		Controller: ctrl,
		HandlerID:  handlerID,
		Federation: federation,
		Logger:     logger,
		pending:    make(map[uint32]controller.OperationHandle),
	}
}

// ServeConn reads and answers requests off conn until it errors or ctx is
// cancelled, at which point it closes conn and returns. A connection-level
// error (EOF, reset) is not logged as a failure — connections end
// routinely; callers loop this per accepted connection.
func (d *Dispatcher) ServeConn(ctx context.Context, conn *wire.Conn) error {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		hdr, err := wire.ReadRequestHeader(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if hdr.HandlerID != d.HandlerID {
			if err := wire.WriteProtocolError(conn, fmt.Sprintf("unknown handler-id 0x%02x", hdr.HandlerID)); err != nil {
				return err
			}
			continue
		}
		if err := d.handle(ctx, conn, hdr.Code); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, conn *wire.Conn, code byte) error {
	switch code {
	case wire.CodeExecuteSynchronous:
		op, err := wire.ReadOperationBody(conn)
		if err != nil {
			return err
		}
		result := d.Controller.Execute(ctx, op)
		return wire.WriteSyncResult(conn, result)

	case wire.CodeExecuteAsynchronous:
		op, err := wire.ReadOperationBody(conn)
		if err != nil {
			return err
		}
		return d.dispatchAsync(ctx, conn, op)

	case wire.CodeCancelAsynchronousOp:
		requestID, err := wire.ReadCancelBody(conn)
		if err != nil {
			return err
		}
		return wire.WriteCancelAck(conn, d.cancel(requestID))

	case wire.CodeRegisterHostController:
		hostID, callbackAddr, err := wire.ReadRegisterHostBody(conn)
		if err != nil {
			return err
		}
		if d.Federation == nil {
			return wire.WriteProtocolError(conn, "this handler does not support host federation")
		}
		snapshot, err := d.Federation.RegisterHost(hostID, callbackAddr)
		if err != nil {
			d.logf("host registration failed: %v", err)
			return wire.WriteProtocolError(conn, err.Error())
		}
		return wire.WriteModelSnapshot(conn, snapshot)

	case wire.CodeUnregisterHostController:
		hostID, err := wire.ReadHostIDBody(conn)
		if err != nil {
			return err
		}
		if d.Federation == nil {
			return wire.WriteProtocolError(conn, "this handler does not support host federation")
		}
		delivered := true
		if err := d.Federation.UnregisterHost(hostID); err != nil {
			d.logf("host unregistration failed: %v", err)
			delivered = false
		}
		return wire.WriteCancelAck(conn, delivered)

	default:
		return wire.WriteProtocolError(conn, fmt.Sprintf("unknown request code 0x%02x", code))
	}
}

// dispatchAsync runs op through ExecuteAsync and streams its fragments and
// terminal back over conn, sending the optional request-id notice only if
// the operation has not already terminated by the time ExecuteAsync
// returns (spec.md §4.5).
func (d *Dispatcher) dispatchAsync(ctx context.Context, conn *wire.Conn, op *dmr.Value) error {
	requestID := d.allocateRequestID()
	sink := &wireSink{conn: conn}

	handle := d.Controller.ExecuteAsync(ctx, op, sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.done {
		// The handler already drove the sink to its terminal call before
		// ExecuteAsync returned: no notice is sent (spec.md §4.5).
		return nil
	}
	d.track(requestID, handle)
	sink.onTerminal = func() { d.untrack(requestID) }
	return wire.WriteRequestIDNotice(conn, requestID)
}

func (d *Dispatcher) allocateRequestID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextRequestID++
	return d.nextRequestID
}

func (d *Dispatcher) track(requestID uint32, handle controller.OperationHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[requestID] = handle
}

func (d *Dispatcher) untrack(requestID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, requestID)
}

// cancel delivers Cancel() to the handle tracked under requestID, reporting
// whether it was still pending (spec.md §4.5: "true if cancel was
// delivered before terminal").
func (d *Dispatcher) cancel(requestID uint32) bool {
	d.mu.Lock()
	handle, ok := d.pending[requestID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	handle.Cancel()
	return true
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Logger == nil {
		return
	}
	d.Logger.WithFields(map[string]interface{}{"component": "dispatcher"}).Errorf(format, args...)
}

// wireSink adapts registry.ResultSink to the wire protocol, serializing the
// optional request-id notice against the terminal write so the two can
// never be written out of order (see dispatchAsync).
type wireSink struct {
	conn *wire.Conn

	mu         sync.Mutex
	done       bool
	onTerminal func()
}

func (s *wireSink) Fragment(location []string, value *dmr.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	_ = wire.WriteFragment(s.conn, location, value)
}

func (s *wireSink) Complete(compensatingOp *dmr.Value) {
	s.finish(func() error { return wire.WriteComplete(s.conn, compensatingOp) })
}

func (s *wireSink) Failed(description string) {
	s.finish(func() error { return wire.WriteFailed(s.conn, description) })
}

func (s *wireSink) Cancelled() {
	s.finish(func() error { return wire.WriteCancellation(s.conn) })
}

// finish writes a terminal frame and marks the sink done, all while holding
// mu, so it can never interleave with dispatchAsync's own lock-held
// check-then-maybe-write-notice sequence: whichever of the two runs first
// fully completes its write before the other observes the sink's state.
func (s *wireSink) finish(write func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	_ = write()
	if s.onTerminal != nil {
		s.onTerminal()
	}
}

var _ registry.ResultSink = (*wireSink)(nil)
