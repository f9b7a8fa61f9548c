package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// SignPayload signs "<unix>.<payload>" with HMAC-SHA256 and returns a
// "v1=<hex>" signature.
func SignPayload(secret string, payload []byte, at time.Time) (signature string, timestamp int64) {
	timestamp = at.Unix()
	toSign := fmt.Sprintf("%d.%s", timestamp, string(payload))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))

	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil))), timestamp
}

// VerifyPayload checks a signature produced by SignPayload.
func VerifyPayload(secret string, payload []byte, timestamp int64, signature string) bool {
	expected, _ := SignPayload(secret, payload, time.Unix(timestamp, 0))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// larkSign computes the Lark custom bot signature for timestamp.
func larkSign(secret string, timestamp int64) string {
	key := fmt.Sprintf("%d\n%s", timestamp, secret)
	mac := hmac.New(sha256.New, []byte(key))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
