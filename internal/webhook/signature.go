package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks a delivery's HMAC-SHA256 signature against the shared secret.
// Expected header format: sha256=<hex-encoded-signature>.
//
// It fails closed: an unconfigured secret, a missing header, or an unsupported
// scheme all reject the delivery. Verification happens before any byte of the
// payload is parsed.
func Verify(body []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	scheme, provided, ok := strings.Cut(signatureHeader, "=")
	if !ok || scheme != "sha256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison to prevent timing attacks.
	return hmac.Equal([]byte(expected), []byte(provided))
}
