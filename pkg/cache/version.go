package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// VersionLength is the length of every generated version token.
const VersionLength = 8

// generateVersion derives a short change marker from content and the current
// time. Identical content at different times yields different tokens, so the
// token must never be used for integrity or deduplication checks.
//
// Tiers: hash of the JSON encoding, then a base64 encoding of the Go
// representation, then the trailing timestamp digits. It never panics.
func generateVersion(content any, now time.Time) string {
	ms := now.UnixMilli()

	if token, ok := hashToken(content, ms); ok {
		return token
	}
	if token, ok := encodingToken(content, ms); ok {
		return token
	}
	return timestampToken(ms)
}

func hashToken(content any, ms int64) (token string, ok bool) {
	defer func() {
		if recover() != nil {
			token, ok = "", false
		}
	}()

	data, err := json.Marshal(content)
	if err != nil {
		return "", false
	}

	h := sha256.New()
	h.Write(data)
	h.Write([]byte("|" + strconv.FormatInt(ms, 10)))
	return hex.EncodeToString(h.Sum(nil))[:VersionLength], true
}

func encodingToken(content any, ms int64) (token string, ok bool) {
	defer func() {
		if recover() != nil {
			token, ok = "", false
		}
	}()

	raw := fmt.Sprintf("%#v|%d", content, ms)
	encoded := base64.RawStdEncoding.EncodeToString([]byte(raw))
	if len(encoded) < VersionLength {
		return "", false
	}
	return encoded[len(encoded)-VersionLength:], true
}

func timestampToken(ms int64) string {
	if ms < 0 {
		ms = -ms
	}
	return fmt.Sprintf("%0*d", VersionLength, ms%100_000_000)
}
