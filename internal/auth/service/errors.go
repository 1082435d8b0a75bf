package service

import "errors"

var (
	// ErrInvalidState reports an OAuth callback whose state does not match
	// the challenge the flow started with.
	ErrInvalidState = errors.New("service: oauth state mismatch")

	// ErrInvalidToken reports a refresh token that is unknown, expired, or
	// outside its post-rotation grace window.
	ErrInvalidToken = errors.New("service: invalid refresh token")

	// ErrInvalidSession reports a session that is missing or expired.
	ErrInvalidSession = errors.New("service: invalid session")
)
