package crypto

import (
	"strings"
	"testing"
	"time"
)

func TestRestHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "test-key", Secret: "test-secret"}

	a := auth.RestHeadersAt("category=linear&symbol=BTCUSDT", 5000, 1700000000000)
	b := auth.RestHeadersAt("category=linear&symbol=BTCUSDT", 5000, 1700000000000)

	if a["X-BAPI-SIGN"] != b["X-BAPI-SIGN"] {
		t.Error("same inputs must produce the same signature")
	}
	if a["X-BAPI-TIMESTAMP"] != "1700000000000" {
		t.Errorf("timestamp = %q, want 1700000000000", a["X-BAPI-TIMESTAMP"])
	}
	if a["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("recv window = %q, want 5000", a["X-BAPI-RECV-WINDOW"])
	}
	if a["X-BAPI-API-KEY"] != "test-key" {
		t.Errorf("api key = %q, want test-key", a["X-BAPI-API-KEY"])
	}
	if len(a["X-BAPI-SIGN"]) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(a["X-BAPI-SIGN"]))
	}

	// Different payloads must sign differently.
	c := auth.RestHeadersAt("category=linear&symbol=ETHUSDT", 5000, 1700000000000)
	if a["X-BAPI-SIGN"] == c["X-BAPI-SIGN"] {
		t.Error("different payloads must produce different signatures")
	}
}

func TestWsAuthArgsAt(t *testing.T) {
	auth := &HMACAuth{Key: "test-key", Secret: "test-secret"}
	now := time.Unix(1700000000, 0)

	args := auth.WsAuthArgsAt(10*time.Second, now)
	if len(args) != 3 {
		t.Fatalf("args length = %d, want 3", len(args))
	}
	if args[0] != "test-key" {
		t.Errorf("args[0] = %v, want test-key", args[0])
	}
	expires, ok := args[1].(int64)
	if !ok || expires != now.Add(10*time.Second).UnixMilli() {
		t.Errorf("args[1] = %v, want expiry in ms", args[1])
	}
	sig, ok := args[2].(string)
	if !ok || len(sig) != 64 {
		t.Errorf("args[2] = %v, want 64-char hex signature", args[2])
	}
}

func TestStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "verylongkey", Secret: "verylongsecret"}
	s := auth.String()
	if strings.Contains(s, "verylongkey") || strings.Contains(s, "verylongsecret") {
		t.Errorf("String() leaked credentials: %s", s)
	}
}
