// Package crypto implements request signing for the Bybit v5 API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the Bybit v5 API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// RestHeaders returns the HTTP headers for a signed REST request. The
// signature is HMAC-SHA256(secret, timestamp+key+recvWindow+payload) hex
// encoded, where payload is the query string for GET requests and the raw
// JSON body for POST requests.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) RestHeaders(payload string, recvWindowMs int) map[string]string {
	return h.RestHeadersAt(payload, recvWindowMs, time.Now().UnixMilli())
}

// RestHeadersAt is like RestHeaders but lets the caller supply the
// millisecond timestamp (useful for deterministic testing).
func (h *HMACAuth) RestHeadersAt(payload string, recvWindowMs int, unixMs int64) map[string]string {
	ts := strconv.FormatInt(unixMs, 10)
	recv := strconv.Itoa(recvWindowMs)

	message := ts + h.Key + recv + payload
	sig := hmacSHA256Hex([]byte(h.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recv,
		"X-BAPI-SIGN":        sig,
	}
}

// WsAuthArgs returns the args array for a private WebSocket "auth" op:
// [apiKey, expiresMs, signature]. The signature is
// HMAC-SHA256(secret, "GET/realtime"+expires) hex encoded.
func (h *HMACAuth) WsAuthArgs(ttl time.Duration) []any {
	return h.WsAuthArgsAt(ttl, time.Now())
}

// WsAuthArgsAt is like WsAuthArgs but lets the caller supply the reference
// time (useful for deterministic testing).
func (h *HMACAuth) WsAuthArgsAt(ttl time.Duration, now time.Time) []any {
	expires := now.Add(ttl).UnixMilli()
	message := "GET/realtime" + strconv.FormatInt(expires, 10)
	sig := hmacSHA256Hex([]byte(h.Secret), message)
	return []any{h.Key, expires, sig}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
