package cryptox

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("produces URL-safe tokens of expected length", func(t *testing.T) {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		require.Len(t, raw, TokenSize256)
	})

	t.Run("tokens are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			token, err := GenerateToken(TokenSize256)
			require.NoError(t, err)
			require.False(t, seen[token], "duplicate token generated")
			seen[token] = true
		}
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)

		_, err = GenerateToken(-1)
		require.Error(t, err)
	})
}

func TestHashToken(t *testing.T) {
	t.Parallel()

	hexRe := regexp.MustCompile(`^[0-9a-f]{64}$`)

	t.Run("deterministic hex output", func(t *testing.T) {
		a := HashToken("some-token")
		b := HashToken("some-token")

		require.Equal(t, a, b)
		require.Regexp(t, hexRe, a)
	})

	t.Run("different inputs differ", func(t *testing.T) {
		require.NotEqual(t, HashToken("token-a"), HashToken("token-b"))
	})

	t.Run("known vector", func(t *testing.T) {
		// sha256("") is a well-known constant
		require.Equal(t,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			HashToken(""),
		)
	})
}
