// Package signature computes and verifies the HMAC-SHA256 signatures carried
// in the X-Webhook-Signature header. Verify is exported for subscribers that
// vendor this module to check inbound payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the expected HMAC of payload.
// The comparison is constant-time; a signature of the wrong length is
// rejected without error.
func Verify(payload []byte, signature string, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
