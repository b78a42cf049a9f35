package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrVerification is the only error verify returns, whatever went wrong.
var ErrVerification = errors.New("webhook verification failed")

// verify checks an HMAC-SHA256 signature over body. The signature may be
// plain hex or GitHub's "sha256=<hex>".
func verify(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrVerification
	}

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrVerification
	}
	if !hmac.Equal(mac(body, secret), got) {
		return ErrVerification
	}
	return nil
}

// Sign returns the "sha256=<hex>" signature of body, as a sender would set it.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(mac(body, secret))
}

func mac(body []byte, secret string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return m.Sum(nil)
}
