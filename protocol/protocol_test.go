package protocol

import (
	"encoding/json"
	"testing"

	"github.com/floegence/tidegate/tgerrors"
)

func TestParseRequest(t *testing.T) {
	msg, perr := Parse([]byte(`{"id":7,"type":"store.insert","bucket":"users","data":{"name":"Alice"}}`))
	if perr != nil {
		t.Fatalf("Parse() failed: %v", perr)
	}
	req, ok := msg.(*Request)
	if !ok {
		t.Fatalf("expected *Request, got %T", msg)
	}
	if req.ID != 7 || req.Type != "store.insert" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.String("bucket") != "users" {
		t.Fatalf("bucket = %q", req.String("bucket"))
	}
	if req.Map("data")["name"] != "Alice" {
		t.Fatalf("data = %v", req.Map("data"))
	}
	if _, present := req.Fields["id"]; present {
		t.Fatal("id leaked into Fields")
	}
	if _, present := req.Fields["type"]; present {
		t.Fatal("type leaked into Fields")
	}
}

func TestParsePong(t *testing.T) {
	msg, perr := Parse([]byte(`{"type":"pong","timestamp":1712000000123}`))
	if perr != nil {
		t.Fatalf("Parse() failed: %v", perr)
	}
	pong, ok := msg.(*Pong)
	if !ok {
		t.Fatalf("expected *Pong, got %T", msg)
	}
	if pong.Timestamp != 1712000000123 {
		t.Fatalf("Timestamp = %d", pong.Timestamp)
	}
}

func TestParsePongWithoutIDNeedsNoID(t *testing.T) {
	// Pong frames carry no correlation id; they must still parse.
	if _, perr := Parse([]byte(`{"type":"pong"}`)); perr != nil {
		t.Fatalf("Parse() failed: %v", perr)
	}
}

func TestParseFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind tgerrors.Kind
	}{
		{"invalid json", `{"id":1,`, tgerrors.KindParseError},
		{"non-object", `[1,2,3]`, tgerrors.KindParseError},
		{"json null", `null`, tgerrors.KindParseError},
		{"missing id", `{"type":"store.all"}`, tgerrors.KindInvalidRequest},
		{"non-numeric id", `{"id":"1","type":"store.all"}`, tgerrors.KindInvalidRequest},
		{"fractional id", `{"id":1.5,"type":"store.all"}`, tgerrors.KindInvalidRequest},
		{"missing type", `{"id":1}`, tgerrors.KindInvalidRequest},
		{"empty type", `{"id":1,"type":""}`, tgerrors.KindInvalidRequest},
		{"non-string type", `{"id":1,"type":4}`, tgerrors.KindInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, perr := Parse([]byte(tc.raw))
			if perr == nil {
				t.Fatalf("Parse() accepted %q as %#v", tc.raw, msg)
			}
			if perr.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", perr.Kind, tc.kind)
			}
		})
	}
}

func TestWelcomeShape(t *testing.T) {
	b, err := Welcome(true)
	if err != nil {
		t.Fatalf("Welcome() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["type"] != "welcome" || obj["version"] != Version {
		t.Fatalf("unexpected welcome: %v", obj)
	}
	if obj["requiresAuth"] != true {
		t.Fatalf("requiresAuth = %v", obj["requiresAuth"])
	}
	if _, ok := obj["serverTime"].(float64); !ok {
		t.Fatalf("serverTime missing: %v", obj)
	}
}

func TestResultRoundTrip(t *testing.T) {
	b, err := Result(42, map[string]any{"userId": "user-1"})
	if err != nil {
		t.Fatalf("Result() failed: %v", err)
	}
	msg, perr := Parse(b)
	if perr != nil {
		t.Fatalf("Parse() failed: %v", perr)
	}
	req := msg.(*Request)
	if req.ID != 42 || req.Type != "result" {
		t.Fatalf("round trip lost envelope: %+v", req)
	}
	if req.Map("data")["userId"] != "user-1" {
		t.Fatalf("round trip lost data: %v", req.Fields)
	}
}

func TestErrorFrameShape(t *testing.T) {
	e := tgerrors.New(tgerrors.KindRateLimited, "rate limit exceeded").
		WithDetails(map[string]any{"retryAfterMs": 120})
	b, err := Error(9, e)
	if err != nil {
		t.Fatalf("Error() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["id"] != float64(9) || obj["type"] != "error" {
		t.Fatalf("unexpected envelope: %v", obj)
	}
	if obj["code"] != "RATE_LIMITED" || obj["message"] != "rate limit exceeded" {
		t.Fatalf("unexpected error body: %v", obj)
	}
	details := obj["details"].(map[string]any)
	if details["retryAfterMs"] != float64(120) {
		t.Fatalf("details = %v", details)
	}
}

func TestErrorFrameOmitsEmptyDetails(t *testing.T) {
	b, err := Error(0, tgerrors.New(tgerrors.KindParseError, "invalid JSON"))
	if err != nil {
		t.Fatalf("Error() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if _, present := obj["details"]; present {
		t.Fatalf("details present: %v", obj)
	}
	if obj["id"] != float64(0) {
		t.Fatalf("id = %v, want 0", obj["id"])
	}
}

func TestPushShape(t *testing.T) {
	b, err := Push("subscription", "s1", []any{map[string]any{"name": "Bob"}})
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["type"] != "push" || obj["channel"] != "subscription" || obj["subscriptionId"] != "s1" {
		t.Fatalf("unexpected push: %v", obj)
	}
}

func TestSystemExtraKeysAreTopLevel(t *testing.T) {
	b, err := System("shutdown", map[string]any{"gracePeriodMs": 500})
	if err != nil {
		t.Fatalf("System() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["type"] != "system" || obj["event"] != "shutdown" {
		t.Fatalf("unexpected system frame: %v", obj)
	}
	if obj["gracePeriodMs"] != float64(500) {
		t.Fatalf("extra key lost: %v", obj)
	}
}

func TestSystemReservedKeysWin(t *testing.T) {
	b, err := System("shutdown", map[string]any{"type": "bogus", "event": "bogus"})
	if err != nil {
		t.Fatalf("System() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["type"] != "system" || obj["event"] != "shutdown" {
		t.Fatalf("reserved keys overridden: %v", obj)
	}
}

func TestPingParsesAsRequestless(t *testing.T) {
	b, err := Ping()
	if err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if obj["type"] != "ping" {
		t.Fatalf("unexpected ping: %v", obj)
	}
	if _, ok := obj["timestamp"].(float64); !ok {
		t.Fatalf("timestamp missing: %v", obj)
	}
}
