// Package sender delivers signed webhook payloads to merchant endpoints.
package sender

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Headers attached to every delivery.
const (
	HeaderSignature = "X-Settlr-Signature"
	HeaderEvent     = "X-Settlr-Event"
)

// Sign computes the hex HMAC-SHA256 of the body under the merchant's webhook
// secret. Merchants recompute it over the raw request body to authenticate
// the delivery.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the signature matches the body in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
