package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driftboard/authd/internal/auth/service"
	"github.com/driftboard/authd/pkg/cryptox"
	"github.com/driftboard/authd/pkg/httpx"
	"github.com/driftboard/authd/pkg/jwtx"
	"github.com/driftboard/authd/pkg/slogx"

	"github.com/go-playground/validator/v10"
)

const (
	// HeaderSignature carries the hex HMAC over "<timestamp>:<body>".
	HeaderSignature = "x-auth-signature"
	// HeaderTimestamp carries the signing time as epoch milliseconds.
	HeaderTimestamp = "x-auth-timestamp"

	// ReplayWindow bounds how old a signed request may be. Timestamps more
	// than ReplayWindow in the future are rejected too, capping the total
	// replay surface at twice the window regardless of clock drift.
	ReplayWindow = 5 * time.Minute

	// maxBodySize caps the signed body. Envelopes are a few hundred bytes;
	// anything near the cap is garbage.
	maxBodySize = 64 << 10
)

// envelope is the discriminated action request. Field requirements per
// action are enforced in dispatch, not by tags, since the set differs per
// action.
type envelope struct {
	Action string `json:"action" validate:"required,oneof=authorize callback refresh signout"`

	// callback
	Code          string `json:"code,omitempty"`
	State         string `json:"state,omitempty"`
	ExpectedState string `json:"expectedState,omitempty"`

	// refresh
	RefreshToken string `json:"refreshToken,omitempty"`
}

type authorizeResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// AuthHandler is the signed transport boundary. Every request must carry a
// valid HMAC over its exact body bytes; nothing downstream runs before the
// signature checks out.
type AuthHandler struct {
	Service      *service.SessionService
	Verifier     jwtx.Verifier
	SharedSecret string

	validate *validator.Validate

	// now is swappable for replay-window tests.
	now func() time.Time
}

func NewAuthHandler(
	svc *service.SessionService,
	verifier jwtx.Verifier,
	sharedSecret string,
) *AuthHandler {
	return &AuthHandler{
		Service:      svc,
		Verifier:     verifier,
		SharedSecret: sharedSecret,
		validate:     validator.New(),
	}
}

func (h *AuthHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}

// Handle verifies the request signature and dispatches the action envelope.
// Validation failures are a uniform 400 that never names the failed check;
// handler failures are a uniform 500 with the real error logged server-side.
func (h *AuthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	// The signature covers the exact bytes on the wire. Re-serializing the
	// parsed JSON would shift whitespace and key order and break it.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.invalidRequest(w, log, "read body", err)
		return
	}

	signature := r.Header.Get(HeaderSignature)
	timestampStr := r.Header.Get(HeaderTimestamp)
	if signature == "" || timestampStr == "" {
		h.invalidRequest(w, log, "missing auth headers", nil)
		return
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		h.invalidRequest(w, log, "malformed timestamp", err)
		return
	}

	now := h.clock()
	age := now.Sub(time.UnixMilli(timestamp))
	if age > ReplayWindow || age < -ReplayWindow {
		h.invalidRequest(w, log, "timestamp outside replay window", nil)
		return
	}

	if !cryptox.VerifyEnvelope(body, timestamp, signature, h.SharedSecret) {
		h.invalidRequest(w, log, "signature mismatch", nil)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.invalidRequest(w, log, "malformed envelope", err)
		return
	}

	if err := h.validate.Struct(env); err != nil {
		h.invalidRequest(w, log, "invalid envelope", err)
		return
	}

	h.dispatch(w, r, env)
}

func (h *AuthHandler) dispatch(w http.ResponseWriter, r *http.Request, env envelope) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	switch env.Action {
	case "authorize":
		url, state, err := h.Service.Authorize()
		if err != nil {
			h.internalError(w, log, env.Action, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authorizeResponse{URL: url, State: state})

	case "callback":
		if env.Code == "" || env.State == "" {
			h.invalidRequest(w, log, "callback missing fields", nil)
			return
		}
		bundle, err := h.Service.CompleteOAuth(ctx, env.Code, env.ExpectedState, env.State)
		if err != nil {
			h.internalError(w, log, env.Action, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, bundle)

	case "refresh":
		if env.RefreshToken == "" {
			h.invalidRequest(w, log, "refresh missing token", nil)
			return
		}
		bundle, err := h.Service.Refresh(ctx, env.RefreshToken)
		if err != nil {
			h.internalError(w, log, env.Action, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, bundle)

	case "signout":
		// The (userID, sessionID) pair comes from the bearer token once,
		// here at the boundary.
		_, sessionID, err := h.bearerSubject(r)
		if err != nil {
			h.invalidRequest(w, log, "signout bearer token", err)
			return
		}
		if err := h.Service.SignOut(ctx, sessionID); err != nil {
			h.internalError(w, log, env.Action, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, nil)
	}
}

// bearerSubject validates the Authorization bearer token and returns the
// (userID, sessionID) pair from its subject claim.
func (h *AuthHandler) bearerSubject(r *http.Request) (string, string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", "", jwtx.ErrInvalidClaim
	}

	claims, err := h.Verifier.Verify(token)
	if err != nil {
		return "", "", err
	}
	return claims.SubjectParts()
}

// invalidRequest answers 400 with a fixed body. The reason is only logged;
// naming the failed check on the wire would help an attacker iterate.
func (h *AuthHandler) invalidRequest(w http.ResponseWriter, log *slog.Logger, reason string, err error) {
	log.Warn("auth request rejected", "reason", reason, "error", err)
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
}

// internalError answers 500 with a fixed body and logs the real cause.
func (h *AuthHandler) internalError(w http.ResponseWriter, log *slog.Logger, action string, err error) {
	log.Error("auth action failed", "action", action, "error", err)
	httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}
