package wire

import (
	"fmt"

	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// RequestHeader is the part of a frame common to every request: the
// handler-id byte selecting a server-side handler, the request marker, and
// the one-byte request code (spec.md §4.5).
type RequestHeader struct {
	HandlerID byte
	Code      byte
}

// ReadRequestHeader reads a request's handler-id, marker and code. Callers
// loop on this to multiplex several request codes over one Conn.
func ReadRequestHeader(c *Conn) (RequestHeader, error) {
	handlerID, err := c.ReadByte()
	if err != nil {
		return RequestHeader{}, err
	}
	marker, err := c.ReadByte()
	if err != nil {
		return RequestHeader{}, err
	}
	if marker != RequestMarker {
		return RequestHeader{}, fmt.Errorf("%w: expected request marker, got 0x%02x", ErrProtocol, marker)
	}
	code, err := c.ReadByte()
	if err != nil {
		return RequestHeader{}, err
	}
	return RequestHeader{HandlerID: handlerID, Code: code}, nil
}

// WriteOperationRequest writes an EXECUTE_SYNCHRONOUS or
// EXECUTE_ASYNCHRONOUS request: handler-id, marker, code, PARAM_OPERATION +
// op.
func WriteOperationRequest(c *Conn, handlerID, code byte, op *dmr.Value) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(handlerID); err != nil {
		return err
	}
	if err := c.WriteByte(RequestMarker); err != nil {
		return err
	}
	if err := c.WriteByte(code); err != nil {
		return err
	}
	if err := c.WriteByte(ParamOperation); err != nil {
		return err
	}
	return c.WriteValue(op)
}

// ReadOperationBody reads the PARAM_OPERATION + value body shared by
// EXECUTE_SYNCHRONOUS and EXECUTE_ASYNCHRONOUS requests.
func ReadOperationBody(c *Conn) (*dmr.Value, error) {
	if err := c.ExpectTag(ParamOperation); err != nil {
		return nil, err
	}
	return c.ReadValue()
}

// WriteCancelRequest writes a CANCEL_ASYNCHRONOUS_OPERATION request.
func WriteCancelRequest(c *Conn, handlerID byte, requestID uint32) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(handlerID); err != nil {
		return err
	}
	if err := c.WriteByte(RequestMarker); err != nil {
		return err
	}
	if err := c.WriteByte(CodeCancelAsynchronousOp); err != nil {
		return err
	}
	if err := c.WriteByte(ParamRequestID); err != nil {
		return err
	}
	return c.WriteUint32(requestID)
}

// ReadCancelBody reads a CANCEL_ASYNCHRONOUS_OPERATION request's body.
func ReadCancelBody(c *Conn) (uint32, error) {
	if err := c.ExpectTag(ParamRequestID); err != nil {
		return 0, err
	}
	return c.ReadUint32()
}

// WriteRegisterHostRequest writes a REGISTER_HOST_CONTROLLER request.
// callbackAddr is the host's own wire listener address, piggybacked so the
// domain controller can dial back and build a proxy that forwards on a
// connection separate from this one (see internal/proxy.Manager's doc
// comment for why federation uses a dedicated connection per direction).
func WriteRegisterHostRequest(c *Conn, handlerID byte, hostID, callbackAddr string) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(handlerID); err != nil {
		return err
	}
	if err := c.WriteByte(RequestMarker); err != nil {
		return err
	}
	if err := c.WriteByte(CodeRegisterHostController); err != nil {
		return err
	}
	if err := c.WriteByte(ParamHostID); err != nil {
		return err
	}
	if err := c.WriteCString(hostID); err != nil {
		return err
	}
	if err := c.WriteByte(ParamCallbackAddr); err != nil {
		return err
	}
	return c.WriteCString(callbackAddr)
}

// WriteUnregisterHostRequest writes an UNREGISTER_HOST_CONTROLLER request.
func WriteUnregisterHostRequest(c *Conn, handlerID byte, hostID string) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(handlerID); err != nil {
		return err
	}
	if err := c.WriteByte(RequestMarker); err != nil {
		return err
	}
	if err := c.WriteByte(CodeUnregisterHostController); err != nil {
		return err
	}
	if err := c.WriteByte(ParamHostID); err != nil {
		return err
	}
	return c.WriteCString(hostID)
}

// ReadHostIDBody reads the PARAM_HOST_ID body of an
// UNREGISTER_HOST_CONTROLLER request.
func ReadHostIDBody(c *Conn) (string, error) {
	if err := c.ExpectTag(ParamHostID); err != nil {
		return "", err
	}
	return c.ReadCString()
}

// ReadRegisterHostBody reads a REGISTER_HOST_CONTROLLER request's
// PARAM_HOST_ID and PARAM_CALLBACK_ADDR fields.
func ReadRegisterHostBody(c *Conn) (hostID, callbackAddr string, err error) {
	if hostID, err = ReadHostIDBody(c); err != nil {
		return "", "", err
	}
	if err = c.ExpectTag(ParamCallbackAddr); err != nil {
		return "", "", err
	}
	callbackAddr, err = c.ReadCString()
	return hostID, callbackAddr, err
}

// WriteSyncResult writes an EXECUTE_SYNCHRONOUS response.
func WriteSyncResult(c *Conn, result *dmr.Value) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeOperationResult); err != nil {
		return err
	}
	if err := c.WriteByte(ParamOperation); err != nil {
		return err
	}
	return c.WriteValue(result)
}

// ReadSyncResult reads an EXECUTE_SYNCHRONOUS response.
func ReadSyncResult(c *Conn) (*dmr.Value, error) {
	if err := c.ExpectTag(CodeOperationResult); err != nil {
		return nil, err
	}
	return ReadOperationBody(c)
}

// WriteRequestIDNotice writes the optional PARAM_REQUEST_ID notice an
// EXECUTE_ASYNCHRONOUS response sends when the engine has not completed
// inline by the time the dispatcher checks (spec.md §4.5).
func WriteRequestIDNotice(c *Conn, requestID uint32) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeRequestID); err != nil {
		return err
	}
	if err := c.WriteByte(ParamRequestID); err != nil {
		return err
	}
	return c.WriteUint32(requestID)
}

// WriteFragment writes a PARAM_HANDLE_RESULT_FRAGMENT response: location
// then the fragment value, as one atomic burst (spec.md §4.5, §5).
func WriteFragment(c *Conn, location []string, value *dmr.Value) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeHandleResultFrag); err != nil {
		return err
	}
	if err := c.WriteByte(ParamLocation); err != nil {
		return err
	}
	if err := c.WriteLocation(location); err != nil {
		return err
	}
	if err := c.WriteByte(ParamOperation); err != nil {
		return err
	}
	return c.WriteValue(value)
}

// WriteComplete writes the PARAM_HANDLE_RESULT_COMPLETE terminal.
func WriteComplete(c *Conn, compensatingOp *dmr.Value) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeHandleResultComplete); err != nil {
		return err
	}
	if err := c.WriteByte(ParamOperation); err != nil {
		return err
	}
	return c.WriteValue(compensatingOp)
}

// WriteFailed writes the PARAM_HANDLE_RESULT_FAILED terminal.
func WriteFailed(c *Conn, description string) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeHandleResultFailed); err != nil {
		return err
	}
	if err := c.WriteByte(ParamFailure); err != nil {
		return err
	}
	return c.WriteCString(description)
}

// WriteCancellation writes the PARAM_HANDLE_CANCELLATION terminal, which
// carries no body.
func WriteCancellation(c *Conn) error {
	c.Lock()
	defer c.Unlock()
	return c.WriteByte(CodeHandleCancellation)
}

// AsyncFrame is one message in an EXECUTE_ASYNCHRONOUS response sequence.
// Of the terminal frames, a CodeHandleResultComplete frame populates Value,
// a CodeHandleResultFailed frame populates Failure, and a
// CodeHandleCancellation frame populates neither.
type AsyncFrame struct {
	Code      byte
	RequestID uint32
	Location  []string
	Value     *dmr.Value
	Failure   string
}

// ReadAsyncFrame reads the next message of an EXECUTE_ASYNCHRONOUS response
// sequence, dispatching on its leading code byte.
func ReadAsyncFrame(c *Conn) (AsyncFrame, error) {
	code, err := c.ReadByte()
	if err != nil {
		return AsyncFrame{}, err
	}
	switch code {
	case CodeRequestID:
		if err := c.ExpectTag(ParamRequestID); err != nil {
			return AsyncFrame{}, err
		}
		id, err := c.ReadUint32()
		if err != nil {
			return AsyncFrame{}, err
		}
		return AsyncFrame{Code: code, RequestID: id}, nil

	case CodeHandleResultFrag:
		if err := c.ExpectTag(ParamLocation); err != nil {
			return AsyncFrame{}, err
		}
		loc, err := c.ReadLocation()
		if err != nil {
			return AsyncFrame{}, err
		}
		if err := c.ExpectTag(ParamOperation); err != nil {
			return AsyncFrame{}, err
		}
		v, err := c.ReadValue()
		if err != nil {
			return AsyncFrame{}, err
		}
		return AsyncFrame{Code: code, Location: loc, Value: v}, nil

	case CodeHandleResultComplete:
		if err := c.ExpectTag(ParamOperation); err != nil {
			return AsyncFrame{}, err
		}
		v, err := c.ReadValue()
		if err != nil {
			return AsyncFrame{}, err
		}
		return AsyncFrame{Code: code, Value: v}, nil

	case CodeHandleResultFailed:
		if err := c.ExpectTag(ParamFailure); err != nil {
			return AsyncFrame{}, err
		}
		desc, err := c.ReadCString()
		if err != nil {
			return AsyncFrame{}, err
		}
		return AsyncFrame{Code: code, Failure: desc}, nil

	case CodeHandleCancellation:
		return AsyncFrame{Code: code}, nil

	default:
		return AsyncFrame{}, fmt.Errorf("%w: unexpected async response code 0x%02x", ErrProtocol, code)
	}
}

// IsTerminal reports whether f is one of the three terminal async frames.
func (f AsyncFrame) IsTerminal() bool {
	switch f.Code {
	case CodeHandleResultComplete, CodeHandleResultFailed, CodeHandleCancellation:
		return true
	default:
		return false
	}
}

// WriteCancelAck writes a CANCEL_ASYNCHRONOUS_OPERATION response.
func WriteCancelAck(c *Conn, delivered bool) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeCancelAck); err != nil {
		return err
	}
	if err := c.WriteByte(ParamBool); err != nil {
		return err
	}
	return c.WriteBool(delivered)
}

// ReadCancelAck reads a CANCEL_ASYNCHRONOUS_OPERATION response.
func ReadCancelAck(c *Conn) (bool, error) {
	if err := c.ExpectTag(CodeCancelAck); err != nil {
		return false, err
	}
	if err := c.ExpectTag(ParamBool); err != nil {
		return false, err
	}
	return c.ReadBool()
}

// WriteModelSnapshot writes a REGISTER_HOST_CONTROLLER response: the
// domain's root model snapshot.
func WriteModelSnapshot(c *Conn, model *dmr.Value) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeModelSnapshot); err != nil {
		return err
	}
	if err := c.WriteByte(ParamModel); err != nil {
		return err
	}
	return c.WriteValue(model)
}

// ReadModelSnapshot reads a REGISTER_HOST_CONTROLLER response.
func ReadModelSnapshot(c *Conn) (*dmr.Value, error) {
	if err := c.ExpectTag(CodeModelSnapshot); err != nil {
		return nil, err
	}
	if err := c.ExpectTag(ParamModel); err != nil {
		return nil, err
	}
	return c.ReadValue()
}

// WriteProtocolError writes a CodeProtocolError response for an unknown
// handler-id, request code, or truncated/malformed frame (spec.md §7's
// protocol-error kind).
func WriteProtocolError(c *Conn, description string) error {
	c.Lock()
	defer c.Unlock()
	if err := c.WriteByte(CodeProtocolError); err != nil {
		return err
	}
	if err := c.WriteByte(ParamFailure); err != nil {
		return err
	}
	return c.WriteCString(description)
}
