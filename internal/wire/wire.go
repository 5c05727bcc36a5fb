// Package wire implements the async management wire protocol's framing
// (spec.md §4.5): a single byte handler-id, a request/response code, and a
// tag-prefixed body. Integers are 4-byte big-endian, booleans are 1 byte,
// and header strings are null-terminated UTF-8 — distinct from
// internal/dmr's own length-prefixed string encoding, which this package
// reuses wholesale for PARAM_OPERATION/PARAM_MODEL payloads.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// RequestMarker begins every request frame, after the handler-id byte, so a
// peer reading a frame can tell a request from a bare response on streams
// that interleave both directions.
const RequestMarker = byte(0x00)

// Request codes (spec.md §4.5).
const (
	CodeExecuteSynchronous       = byte(0x01)
	CodeExecuteAsynchronous      = byte(0x02)
	CodeCancelAsynchronousOp     = byte(0x03)
	CodeRegisterHostController   = byte(0x04)
	CodeUnregisterHostController = byte(0x05)
)

// Response codes.
const (
	CodeOperationResult      = byte(0x81)
	CodeRequestID            = byte(0x82)
	CodeHandleResultFrag     = byte(0x83)
	CodeHandleResultComplete = byte(0x84)
	CodeHandleResultFailed   = byte(0x85)
	CodeHandleCancellation   = byte(0x86)
	CodeCancelAck            = byte(0x87)
	CodeModelSnapshot        = byte(0x88)
	CodeProtocolError        = byte(0xFF)
)

// Parameter tag bytes: a fixed enumeration that must be stable across
// releases, not an implementation detail.
const (
	ParamOperation    = byte(0x01)
	ParamRequestID    = byte(0x02)
	ParamLocation     = byte(0x03)
	ParamHostID       = byte(0x04)
	ParamModel        = byte(0x05)
	ParamBool         = byte(0x06)
	ParamFailure      = byte(0x07)
	ParamCallbackAddr = byte(0x08)
)

// ErrProtocol reports a framing violation: an unknown handler-id, request
// code, or tag, or a truncated frame (spec.md §7's protocol-error kind).
var ErrProtocol = errors.New("wire: protocol error")

// Conn wraps a net.Conn with the framing primitives and a write mutex so a
// fragment burst (tag + location + payload) is written atomically even
// when multiple goroutines share one connection (spec.md §4.5: "fragment
// bursts are atomic per fragment").
type Conn struct {
	raw net.Conn
	r   *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps raw for framed reads and writes.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, r: bufio.NewReader(raw)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Lock acquires the write mutex for a multi-field frame write; callers pair
// it with Unlock around a sequence of WriteByte/WriteUint32/... calls that
// must reach the peer as one atomic burst.
func (c *Conn) Lock() { c.writeMu.Lock() }

// Unlock releases the write mutex acquired by Lock.
func (c *Conn) Unlock() { c.writeMu.Unlock() }

// WriteByte writes a single byte frame field.
func (c *Conn) WriteByte(b byte) error {
	_, err := c.raw.Write([]byte{b})
	return err
}

// WriteUint32 writes a 4-byte big-endian integer.
func (c *Conn) WriteUint32(n uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	_, err := c.raw.Write(buf[:])
	return err
}

// WriteBool writes a 1-byte boolean.
func (c *Conn) WriteBool(b bool) error {
	if b {
		return c.WriteByte(1)
	}
	return c.WriteByte(0)
}

// WriteCString writes a null-terminated UTF-8 string (spec.md §4.5: "strings
// use null-terminated UTF-8"), distinct from dmr's length-prefixed strings.
func (c *Conn) WriteCString(s string) error {
	if _, err := c.raw.Write([]byte(s)); err != nil {
		return err
	}
	return c.WriteByte(0)
}

// WriteValue writes v through dmr's binary codec, reused wholesale for
// PARAM_OPERATION/PARAM_MODEL payloads.
func (c *Conn) WriteValue(v *dmr.Value) error {
	return v.EncodeBinary(c.raw)
}

// WriteLocation writes a PARAM_LOCATION body: a 4-byte count followed by
// that many null-terminated strings (spec.md §4.5's "(count + strings)").
func (c *Conn) WriteLocation(location []string) error {
	if err := c.WriteUint32(uint32(len(location))); err != nil {
		return err
	}
	for _, seg := range location {
		if err := c.WriteCString(seg); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte reads a single byte frame field.
func (c *Conn) ReadByte() (byte, error) { return c.r.ReadByte() }

// ReadUint32 reads a 4-byte big-endian integer.
func (c *Conn) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadBool reads a 1-byte boolean.
func (c *Conn) ReadBool() (bool, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadCString reads a null-terminated UTF-8 string.
func (c *Conn) ReadCString() (string, error) {
	s, err := c.r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

// ReadValue decodes a dmr.Value through the binary codec.
func (c *Conn) ReadValue() (*dmr.Value, error) {
	return dmr.DecodeBinary(c.r)
}

// ReadLocation reads a PARAM_LOCATION body written by WriteLocation.
func (c *Conn) ReadLocation() ([]string, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		seg, err := c.ReadCString()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// ExpectTag reads one byte and verifies it equals want, returning
// ErrProtocol (wrapping a description of what was actually seen) otherwise.
func (c *Conn) ExpectTag(want byte) error {
	got, err := c.ReadByte()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected tag 0x%02x, got 0x%02x", ErrProtocol, want, got)
	}
	return nil
}
