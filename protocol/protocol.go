// Package protocol implements the framed JSON wire codec.
//
// Each websocket text frame carries a single UTF-8 JSON object with a "type"
// field. The codec is stateless; framing is delegated to the transport.
package protocol

import (
	"encoding/json"
	"math"

	"github.com/floegence/tidegate/tgerrors"
)

// Version is the protocol version announced in the welcome frame. Changes
// here must come with an incompatible welcome payload.
const Version = "1.0.0"

// DefaultMaxFrameBytes caps inbound frame sizes to prevent abuse.
const DefaultMaxFrameBytes = 1 << 20

// Message is an inbound frame parsed into a tagged variant: *Pong or *Request.
type Message interface {
	isMessage()
}

// Pong is the client's reply to a server ping frame.
type Pong struct {
	Timestamp int64 // Client timestamp in milliseconds, zero when absent.
}

func (*Pong) isMessage() {}

// Request is a correlated client request. Fields holds every property of the
// frame except "id" and "type".
type Request struct {
	ID     int64
	Type   string
	Fields map[string]any
}

func (*Request) isMessage() {}

// String reads a string-valued field, returning "" when absent or mistyped.
func (r *Request) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Map reads an object-valued field, returning nil when absent or mistyped.
func (r *Request) Map(key string) map[string]any {
	m, _ := r.Fields[key].(map[string]any)
	return m
}

// Parse decodes a raw inbound frame.
//
// Failures return a *tgerrors.Error with kind PARSE_ERROR (invalid JSON or a
// non-object payload) or INVALID_REQUEST (missing numeric id, missing or
// non-string type).
func Parse(raw []byte) (Message, *tgerrors.Error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, tgerrors.New(tgerrors.KindParseError, "invalid JSON")
	}
	if obj == nil {
		return nil, tgerrors.New(tgerrors.KindParseError, "frame must be a JSON object")
	}
	typ, ok := obj["type"].(string)
	if !ok || typ == "" {
		return nil, tgerrors.New(tgerrors.KindInvalidRequest, "missing message type")
	}
	if typ == "pong" {
		return &Pong{Timestamp: intField(obj, "timestamp")}, nil
	}
	rawID, present := obj["id"]
	id, numeric := asInt64(rawID)
	if !present || !numeric {
		return nil, tgerrors.New(tgerrors.KindInvalidRequest, "missing request id")
	}
	delete(obj, "id")
	delete(obj, "type")
	return &Request{ID: id, Type: typ, Fields: obj}, nil
}

func intField(obj map[string]any, key string) int64 {
	v, _ := asInt64(obj[key])
	return v
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
