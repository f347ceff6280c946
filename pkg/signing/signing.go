// Package signing computes and verifies the HMAC-SHA256 signatures carried by
// stream webhook deliveries.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"daytrading-core/pkg/errs"
)

// Header carries the hex signature of the raw request body.
const Header = "X-Stream-Signature"

// Sign returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against body in constant time.
func Verify(body []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &errs.SignatureError{Reason: "missing signature"}
	}
	if secret == "" {
		return &errs.SignatureError{Reason: "webhook secret not configured"}
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return &errs.SignatureError{Reason: "signature is not hex"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &errs.SignatureError{Reason: "signature mismatch"}
	}
	return nil
}
