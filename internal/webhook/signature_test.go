package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"action": "opened"}`)
	secret := "s3cret"

	cases := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   bool
	}{
		{"valid", body, sign(body, secret), secret, true},
		{"valid empty body", []byte{}, sign([]byte{}, secret), secret, true},
		{"wrong secret", body, sign(body, "other"), secret, false},
		{"tampered body", []byte(`{"action": "closed"}`), sign(body, secret), secret, false},
		{"missing header", body, "", secret, false},
		{"no secret configured", body, sign(body, secret), "", false},
		{"unsupported scheme", body, "sha1=deadbeef", secret, false},
		{"garbage header", body, "not-a-signature", secret, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Verify(tc.body, tc.header, tc.secret); got != tc.want {
				t.Errorf("Verify = %v, want %v", got, tc.want)
			}
		})
	}
}
