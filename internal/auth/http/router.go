// Package http is the transport boundary: one signed action endpoint plus
// the two unauthenticated discovery routes.
package http

import (
	"log/slog"
	"net/http"

	"github.com/driftboard/authd/internal/auth/service"
	"github.com/driftboard/authd/pkg/httpx"
	"github.com/driftboard/authd/pkg/jwtx"
	"github.com/driftboard/authd/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	logger   *slog.Logger
	verifier jwtx.Verifier

	issuer       string
	jwksDocument []byte

	SessionService *service.SessionService
	SharedSecret   string
}

func NewRouter(
	verifier jwtx.Verifier,
	issuer string,
	jwksDocument []byte,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		issuer:       issuer,
		jwksDocument: jwksDocument,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	authHandler := NewAuthHandler(r.SessionService, r.verifier, r.SharedSecret)

	// POST /auth - strict rate limit (the only mutating surface)
	r.Mux.Handle("POST /auth",
		httpx.Chain(http.HandlerFunc(authHandler.Handle),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Discovery routes - unauthenticated, cacheable, lenient limit
	r.Mux.Handle("GET /.well-known/openid-configuration",
		httpx.Chain(http.HandlerFunc(r.handleOpenIDConfiguration),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(http.HandlerFunc(r.handleJWKS),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}
