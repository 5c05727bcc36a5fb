package wire

import (
	"net"
	"time"
)

// Listen opens a TCP listener for the wire protocol at addr.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Dial connects to a remote wire-protocol listener at addr, bounded by
// connectTimeout (spec.md §4.5: "the wire layer may enforce connect
// timeouts (default 5 s)"), and returns it wrapped as a *Conn.
func Dial(addr string, connectTimeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}
