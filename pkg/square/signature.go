package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the webhook signature Square sends.
const SignatureHeader = "x-square-hmacsha256-signature"

// Sign computes base64(HMAC-SHA256(key, notificationURL+body)).
func Sign(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body for the given key and URL.
func VerifySignature(key, notificationURL string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if key == "" || signature == "" {
		return false
	}
	expected := Sign(key, notificationURL, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
