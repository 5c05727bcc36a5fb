// Package gateway implements the HTTP/JSON external interface (spec.md
// §6): a GET/POST surface under /domain-api that translates path segments
// and query parameters into an operation, submits it to a
// controller.ModelController, and renders the result envelope back as
// JSON or the binary wire encoding.
package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/mgmtctl/infrastructure/logging"
	"github.com/r3e-network/mgmtctl/infrastructure/middleware"
	"github.com/r3e-network/mgmtctl/infrastructure/redaction"
	"github.com/r3e-network/mgmtctl/internal/controller"
)

// BasePath is the mount point every gateway route lives under (spec.md
// §6).
const BasePath = "/domain-api"

// Server adapts a controller.ModelController to HTTP/JSON.
type Server struct {
	Controller *controller.ModelController
	Logger     *logging.Logger
	Redactor   *redaction.Redactor
	CORS       *middleware.CORSMiddleware
}

// NewServer builds a Server with default CORS (allow-all, per spec.md §6)
// and a default redactor for request logging.
func NewServer(ctrl *controller.ModelController, logger *logging.Logger) *Server {
	return &Server{
		Controller: ctrl,
		Logger:     logger,
		Redactor:   redaction.NewRedactor(redaction.DefaultConfig()),
		CORS: middleware.NewCORSMiddleware(&middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
		}),
	}
}

// RegisterRoutes mounts the gateway's routes and CORS middleware onto an
// existing router, so cmd/domaind and cmd/hostd can serve /domain-api
// alongside a daemon.BaseDaemon's own /health, /ready, /info and /metrics
// routes from one listener.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.Use(s.CORS.Handler)
	router.Handle(BasePath, http.HandlerFunc(s.handle))
	router.PathPrefix(BasePath + "/").HandlerFunc(s.handle)
}

// Router builds a standalone mux.Router serving only BasePath, wrapped in
// CORS middleware. Used by gateway's own tests and by any caller that
// doesn't need to share a router with a daemon.BaseDaemon.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}
