package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/r3e-network/mgmtctl/infrastructure/httputil"
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
)

// reservedQueryKeys are query-string parameters the gateway itself
// consumes rather than folding into the operation's payload (spec.md §6
// "operation" plus SPEC_FULL.md §3's "select" projection).
var reservedQueryKeys = map[string]bool{
	"operation": true,
	"select":    true,
}

// addressFromPath parses the path segments following BasePath into an
// Address: consecutive (type,name) pairs (spec.md §6). An odd segment
// count is a malformed request.
func addressFromPath(r *http.Request) (address.Address, error) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, BasePath), "/")
	if trimmed == "" {
		return address.Root(), nil
	}
	segs := strings.Split(trimmed, "/")
	if len(segs)%2 != 0 {
		return address.Address{}, fmt.Errorf("path has an odd number of segments, expected (type,name) pairs")
	}
	elems := make([]address.Element, 0, len(segs)/2)
	for i := 0; i < len(segs); i += 2 {
		key, err := url.PathUnescape(segs[i])
		if err != nil {
			return address.Address{}, fmt.Errorf("invalid path segment %q: %w", segs[i], err)
		}
		value, err := url.PathUnescape(segs[i+1])
		if err != nil {
			return address.Address{}, fmt.Errorf("invalid path segment %q: %w", segs[i+1], err)
		}
		elems = append(elems, address.Element{Key: key, Value: value})
	}
	return address.New(elems...), nil
}

// operationFromGET builds an operation value from the request's address
// and query string: operation defaults to read-resource with
// recursive=false, and every other query parameter becomes a string-typed
// payload field (spec.md §6: "GET {path}?operation={name}&{k}={v}...").
func operationFromGET(r *http.Request, addr address.Address) *dmr.Value {
	query := r.URL.Query()
	opName := query.Get("operation")
	if opName == "" {
		opName = "read-resource"
	}

	op := dmr.Object()
	op.Set("address", addr.ToValue())
	op.Set("operation", dmr.String(opName))
	if opName == "read-resource" {
		op.Set("recursive", dmr.Bool(httputil.QueryBool(r, "recursive", false)))
	}

	for key, values := range query {
		if reservedQueryKeys[key] || (opName == "read-resource" && key == "recursive") {
			continue
		}
		if len(values) == 0 {
			continue
		}
		op.Set(key, dmr.String(values[0]))
	}
	return op
}

// contentTypeDMREncoded is the Content-Type selecting the binary wire
// encoding for a POST body, instead of JSON (spec.md §6).
const contentTypeDMREncoded = "application/dmr-encoded"

// operationFromPOST decodes the request body as the operation itself,
// choosing JSON or the binary codec by Content-Type. The binary form
// travels as base64 text so it survives as an ordinary JSON-less HTTP
// body (spec.md §6: "JSON or base64-encoded binary").
func operationFromPOST(r *http.Request) (*dmr.Value, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	if strings.Contains(r.Header.Get("Content-Type"), contentTypeDMREncoded) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
		if err != nil {
			return nil, fmt.Errorf("decoding base64 body: %w", err)
		}
		return dmr.DecodeBinary(bytes.NewReader(raw))
	}
	return dmr.ParseJSON(body)
}

// wantsBinaryResponse reports whether the client asked for the binary
// wire encoding on the response (spec.md §6: "Accept: application/
// dmr-encoded selects binary encoding on the response").
func wantsBinaryResponse(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeDMREncoded)
}
