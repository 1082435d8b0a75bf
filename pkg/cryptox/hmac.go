package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SignEnvelope computes a hex-encoded HMAC-SHA256 signature over
// "<timestamp>:<payload>". Binding the timestamp into the signed material
// means a captured signature cannot be replayed under a different timestamp.
//
// The payload must be the exact request body bytes. Re-serializing JSON would
// change whitespace and key order and break verification on the other side.
func SignEnvelope(payload []byte, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{':'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEnvelope recomputes the envelope signature and compares it in
// constant time. A malformed hex signature simply fails the comparison.
func VerifyEnvelope(payload []byte, timestamp int64, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{':'})
	mac.Write(payload)

	return hmac.Equal(got, mac.Sum(nil))
}
