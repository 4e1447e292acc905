package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<ts>,v1=<digest>".
const SignatureHeader = "X-Signature"

// DefaultTolerance is the replay window receivers should use unless told otherwise.
const DefaultTolerance = 5 * time.Minute

// digestHexLen is the length of a hex encoded SHA-256 MAC.
const digestHexLen = sha256.Size * 2

var errMalformedSignature = errors.New("malformed signature header")

// Sign returns the lowercase hex HMAC-SHA256 of "<timestamp>.<body>" keyed by secret.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HeaderValue formats the X-Signature header.
func HeaderValue(timestamp int64, digest string) string {
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + digest
}

// SignatureFor signs body at timestamp and returns the full header value.
func SignatureFor(secret string, timestamp int64, body []byte) string {
	return HeaderValue(timestamp, Sign(secret, timestamp, body))
}

// ParseHeader extracts the timestamp and v1 digest. Unknown keys are ignored.
func ParseHeader(value string) (int64, string, error) {
	var (
		ts     int64
		digest string
		haveTS bool
	)
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, "", errMalformedSignature
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return 0, "", errMalformedSignature
			}
			ts, haveTS = n, true
		case "v1":
			digest = v
		}
	}
	if !haveTS || len(digest) != digestHexLen {
		return 0, "", errMalformedSignature
	}
	return ts, digest, nil
}

// Verify checks header against body using the current time.
func Verify(secret, header string, body []byte, maxAge time.Duration) bool {
	return VerifyAt(time.Now(), secret, header, body, maxAge)
}

// VerifyAt checks header against body as of now. Timestamps older than maxAge,
// or further than maxAge in the future, are rejected before the MAC is compared.
func VerifyAt(now time.Time, secret, header string, body []byte, maxAge time.Duration) bool {
	if secret == "" || header == "" {
		return false
	}
	ts, digest, err := ParseHeader(header)
	if err != nil {
		return false
	}

	age := now.Unix() - ts
	limit := int64(maxAge / time.Second)
	if age > limit || -age > limit {
		return false
	}

	provided, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, ts, body))
	return subtle.ConstantTimeCompare(expected, provided) == 1
}
