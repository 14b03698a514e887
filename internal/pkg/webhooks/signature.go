package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed timestamp may be before the
// signature is rejected as a replay.
const DefaultTolerance = 300 * time.Second

// Sign computes the signature header for a webhook body:
// HMAC-SHA256 over "<timestamp>.<body>", rendered as "t=<ts>,v1=<hex>".
// Deterministic: identical inputs always produce the identical header.
func Sign(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a signature header against a body and shared secret.
// Invalid when the header is malformed, the timestamp falls outside the
// tolerance window, or the HMAC does not match. The HMAC comparison is
// constant-time.
func VerifySignature(body []byte, signatureHeader, secret string, tolerance time.Duration) bool {
	return verifySignatureAt(body, signatureHeader, secret, tolerance, time.Now())
}

func verifySignatureAt(body []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var timestamp int64
	var signature string
	for _, element := range strings.Split(signatureHeader, ",") {
		key, value, ok := strings.Cut(element, "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			signature = value
		}
	}
	if timestamp == 0 || signature == "" {
		return false
	}

	age := now.Unix() - timestamp
	if age < 0 {
		age = -age
	}
	if age > int64(tolerance/time.Second) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
