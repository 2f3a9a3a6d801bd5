package protocol

import (
	"encoding/json"
	"time"

	"github.com/floegence/tidegate/tgerrors"
)

type welcomeFrame struct {
	Type         string `json:"type"`
	Version      string `json:"version"`
	ServerTime   int64  `json:"serverTime"`
	RequiresAuth bool   `json:"requiresAuth"`
}

type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type resultFrame struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorFrame struct {
	ID      int64          `json:"id"`
	Type    string         `json:"type"`
	Code    tgerrors.Kind  `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type pushFrame struct {
	Type           string `json:"type"`
	Channel        string `json:"channel"`
	SubscriptionID string `json:"subscriptionId"`
	Data           any    `json:"data"`
}

// NowMillis returns the wall clock in milliseconds, the wire time unit.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Welcome serializes the frame sent once per connection, before anything else.
func Welcome(requiresAuth bool) ([]byte, error) {
	return json.Marshal(welcomeFrame{
		Type:         "welcome",
		Version:      Version,
		ServerTime:   NowMillis(),
		RequiresAuth: requiresAuth,
	})
}

// Ping serializes a heartbeat probe.
func Ping() ([]byte, error) {
	return json.Marshal(pingFrame{Type: "ping", Timestamp: NowMillis()})
}

// Result serializes the success response for request id.
func Result(id int64, data any) ([]byte, error) {
	return json.Marshal(resultFrame{ID: id, Type: "result", Data: data})
}

// Error serializes the failure response for request id. Use id 0 when the
// original id could not be recovered.
func Error(id int64, e *tgerrors.Error) ([]byte, error) {
	return json.Marshal(errorFrame{
		ID:      id,
		Type:    "error",
		Code:    e.Kind,
		Message: e.Message,
		Details: e.Details,
	})
}

// Push serializes a subscription or event notification.
func Push(channel, subscriptionID string, data any) ([]byte, error) {
	return json.Marshal(pushFrame{
		Type:           "push",
		Channel:        channel,
		SubscriptionID: subscriptionID,
		Data:           data,
	})
}

// System serializes a server-initiated system frame with extra top-level keys.
func System(event string, extra map[string]any) ([]byte, error) {
	obj := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		obj[k] = v
	}
	obj["type"] = "system"
	obj["event"] = event
	return json.Marshal(obj)
}
