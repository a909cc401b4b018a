package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookHMAC(t *testing.T) {
	body := []byte(`{"id": 42}`)
	secret := "shhh"

	assert.True(t, VerifyWebhookHMAC(body, secret, sign(body, secret)))
	assert.False(t, VerifyWebhookHMAC(body, secret, sign(body, "wrong-secret")))
	assert.False(t, VerifyWebhookHMAC([]byte(`{"id": 43}`), secret, sign(body, secret)))
	assert.False(t, VerifyWebhookHMAC(body, secret, ""))
	assert.False(t, VerifyWebhookHMAC(body, secret, "not-base64!!"))
}
