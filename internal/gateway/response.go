package gateway

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/mgmtctl/infrastructure/httputil"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/envelope"
)

// handle answers every request under BasePath: it builds an operation from
// the request, submits it synchronously, and renders the envelope.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGET(w, r)
	case http.MethodPost:
		s.handlePOST(w, r)
	default:
		httputil.MethodNotAllowed(w, "gateway only accepts GET and POST")
	}
}

// handleGET implements spec.md §6's read-oriented convenience form: on
// success the response body is the envelope's unwrapped "result" (optionally
// projected through ?select=, SPEC_FULL.md §3), and a failed outcome
// reports HTTP 500 with the full envelope (spec.md §7).
func (s *Server) handleGET(w http.ResponseWriter, r *http.Request) {
	addr, err := addressFromPath(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	op := operationFromGET(r, addr)
	s.logOperation(r, op)

	env := s.Controller.Execute(r.Context(), op)
	if !envelope.IsSuccess(env) {
		s.writeEnvelope(w, r, http.StatusInternalServerError, env)
		return
	}

	result := env.Get("result")
	if sel := r.URL.Query().Get("select"); sel != "" {
		result = projectSelect(result, sel)
	}
	s.writeValue(w, r, http.StatusOK, result)
}

// handlePOST implements spec.md §6's general form: the body is the
// operation (JSON or base64-encoded binary); the response always
// serializes the full envelope, with HTTP 500 when its outcome is failed
// (spec.md §6, §7).
func (s *Server) handlePOST(w http.ResponseWriter, r *http.Request) {
	op, err := operationFromPOST(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.logOperation(r, op)

	env := s.Controller.Execute(r.Context(), op)
	status := http.StatusOK
	if !envelope.IsSuccess(env) {
		status = http.StatusInternalServerError
	}
	s.writeEnvelope(w, r, status, env)
}

// writeEnvelope renders env as the response body, in JSON or the binary
// wire encoding per Accept (spec.md §6).
func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env *dmr.Value) {
	s.writeValue(w, r, status, env)
}

func (s *Server) writeValue(w http.ResponseWriter, r *http.Request, status int, v *dmr.Value) {
	if wantsBinaryResponse(r) {
		w.Header().Set("Content-Type", contentTypeDMREncoded)
		w.WriteHeader(status)
		if err := v.EncodeBinary(w); err != nil {
			s.logf(r, "encode binary response: %v", err)
		}
		return
	}
	httputil.WriteJSON(w, status, v)
}

// projectSelect applies a gjson path to result's JSON rendition, returning
// the projected value, dmr.Undefined() when the path matches nothing, or
// result unchanged if the round-trip through JSON fails (SPEC_FULL.md §3's
// ?select= addition,
// grounded on services/datafeeds' gjson.GetBytes usage for JSONPath
// extraction against a fetched document).
func projectSelect(result *dmr.Value, path string) *dmr.Value {
	encoded, err := result.MarshalJSON()
	if err != nil {
		return result
	}
	hit := gjson.GetBytes(encoded, path)
	if !hit.Exists() {
		return dmr.Undefined()
	}
	projected, err := dmr.ParseJSON([]byte(hit.Raw))
	if err != nil {
		return result
	}
	return projected
}

// logOperation logs the inbound operation at debug level after passing its
// JSON through the redactor, which masks key:value or key=value text under a
// secret-like key (password, token, API key and similar) and Bearer JWTs. A
// write-attribute's name/value pair is not itself such a form, so its value
// is masked only when the value's own text matches one.
func (s *Server) logOperation(r *http.Request, op *dmr.Value) {
	if s.Logger == nil {
		return
	}
	encoded, err := op.MarshalJSON()
	if err != nil {
		return
	}
	redacted := encoded
	if s.Redactor != nil {
		redacted = []byte(s.Redactor.RedactString(string(encoded)))
	}
	s.Logger.Debug(r.Context(), "gateway request", map[string]interface{}{
		"method":    r.Method,
		"path":      r.URL.Path,
		"operation": string(redacted),
	})
}

func (s *Server) logf(r *http.Request, format string, args ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(map[string]interface{}{"component": "gateway"}).Errorf(format, args...)
}
