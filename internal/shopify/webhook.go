package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifyWebhookHMAC checks the X-Shopify-Hmac-Sha256 header against the raw
// request body. Constant-time compare.
func VerifyWebhookHMAC(body []byte, secret, providedBase64 string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(providedBase64))
}
