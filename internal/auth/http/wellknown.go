package http

import (
	"encoding/json"
	"net/http"

	"github.com/driftboard/authd/pkg/httpx"
)

// openIDConfiguration is the minimal discovery document the web tier needs
// to locate the JWKS and the sign-in entry point.
type openIDConfiguration struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
}

func (r *Router) handleOpenIDConfiguration(w http.ResponseWriter, req *http.Request) {
	httpx.Cacheable(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(openIDConfiguration{
		Issuer:                r.issuer,
		JWKSURI:               r.issuer + "/.well-known/jwks.json",
		AuthorizationEndpoint: r.issuer + "/oauth/authorize",
	})
}

// handleJWKS serves the JWKS document verbatim from configuration, so key
// rollover is a config change rather than a deploy.
func (r *Router) handleJWKS(w http.ResponseWriter, req *http.Request) {
	httpx.Cacheable(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(r.jwksDocument)
}
