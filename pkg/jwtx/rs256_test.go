package jwtx_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/driftboard/authd/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "https://driftboard.example"

func newTestSigner(t *testing.T) jwtx.Signer {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: mustMarshalPKCS8(t, privKey),
	})

	signer, err := jwtx.NewSignerRS256("test-key", privPEM)
	require.NoError(t, err)
	require.NoError(t, signer.Validate())
	return signer
}

func mustMarshalPKCS8(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return der
}

func TestRS256SignAndVerify(t *testing.T) {
	signer := newTestSigner(t)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"01JUSER", "01JSESSION",
		time.Hour,
		exampleIssuer,
		[]string{"driftboard"},
		now,
	)

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verifier, err := jwtx.NewVerifierRS256(signer, exampleIssuer, []string{"driftboard"})
	require.NoError(t, err)

	parsed, err := verifier.Verify(token)
	require.NoError(t, err)

	require.Equal(t, "01JUSER:01JSESSION", parsed.Subject)
	require.Equal(t, exampleIssuer, parsed.Issuer)

	userID, sessionID, err := parsed.SubjectParts()
	require.NoError(t, err)
	require.Equal(t, "01JUSER", userID)
	require.Equal(t, "01JSESSION", sessionID)

	require.WithinDuration(t, now.Add(time.Hour), parsed.ExpiresAt.Time, time.Second)
}

func TestRS256VerifyFailsForWrongIssuer(t *testing.T) {
	signer := newTestSigner(t)

	claims := jwtx.NewAccessClaims("u", "s", time.Hour, "https://evil.example", nil, time.Now().UTC())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier, err := jwtx.NewVerifierRS256(signer, exampleIssuer, nil)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestRS256VerifyFailsForExpiredToken(t *testing.T) {
	signer := newTestSigner(t)

	claims := jwtx.NewAccessClaims("u", "s", time.Hour, exampleIssuer, nil, time.Now().UTC().Add(-2*time.Hour))
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier, err := jwtx.NewVerifierRS256(signer, exampleIssuer, nil)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestRS256VerifyRejectsTamperedToken(t *testing.T) {
	signer := newTestSigner(t)

	claims := jwtx.NewAccessClaims("u", "s", time.Hour, exampleIssuer, nil, time.Now().UTC())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier, err := jwtx.NewVerifierRS256(signer, exampleIssuer, nil)
	require.NoError(t, err)

	mutated := []byte(token)
	mutated[len(mutated)/2] ^= 0x01
	_, err = verifier.Verify(string(mutated))
	require.Error(t, err)
}

func TestSubjectPartsRejectsMalformedSubject(t *testing.T) {
	t.Parallel()

	for _, sub := range []string{"", "nocolon", ":missing-user", "missing-session:"} {
		c := jwtx.Claims{}
		c.Subject = sub
		_, _, err := c.SubjectParts()
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim, "subject %q", sub)
	}
}

func TestSignerRejectsBadPEM(t *testing.T) {
	t.Parallel()

	_, err := jwtx.NewSignerRS256("kid", []byte("not pem at all"))
	require.Error(t, err)

	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x01}})
	_, err = jwtx.NewSignerRS256("kid", block)
	require.Error(t, err)
}
