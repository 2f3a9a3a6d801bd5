package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/realtime/ws"
	"github.com/floegence/tidegate/store"
)

type countObs struct {
	mu        sync.Mutex
	delivered int
	dropped   int
}

func (o *countObs) ConnCount(int64)                             {}
func (o *countObs) SubscriptionCount(int)                       {}
func (o *countObs) Request(observability.RequestResult, string) {}
func (o *countObs) Auth(observability.AuthResult)               {}
func (o *countObs) RateLimited()                                {}
func (o *countObs) Close(observability.CloseReason)             {}
func (o *countObs) Push(result observability.PushResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if result == observability.PushResultDelivered {
		o.delivered++
	} else {
		o.dropped++
	}
}

func (o *countObs) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delivered, o.dropped
}

// serverSideConn upgrades one connection and hands back the server half.
func serverSideConn(t *testing.T) *ws.Conn {
	t.Helper()
	ch := make(chan *ws.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Upgrade(w, r, ws.UpgraderOptions{})
		if err != nil {
			return
		}
		ch <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-ch:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(time.Second):
		t.Fatal("no server side connection")
		return nil
	}
}

// Pushes above the high water mark are dropped; responses are not. The
// write pump is deliberately not started, so nothing drains the queue.
func TestBackpressureDropsPushesNotResponses(t *testing.T) {
	obs := &countObs{}
	cfg := DefaultConfig()
	ms := store.NewMemStore()
	t.Cleanup(ms.Close)
	cfg.Store = ms
	cfg.HighWaterMark = 200
	cfg.Observer = obs
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := newWorker(h, "conn-test", serverSideConn(t))
	w.storeSub["s1"] = func() {}

	// An oversized push is refused outright.
	w.handlePush(pushDelivery{subscriptionID: "s1", channel: "subscription", data: strings.Repeat("x", 400)})
	if delivered, dropped := obs.counts(); delivered != 0 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d after oversized push", delivered, dropped)
	}

	// A small push fits under the mark.
	w.handlePush(pushDelivery{subscriptionID: "s1", channel: "subscription", data: "ok"})
	if delivered, dropped := obs.counts(); delivered != 1 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d after small push", delivered, dropped)
	}

	// Pushes for unknown subscriptions are discarded without counting.
	w.handlePush(pushDelivery{subscriptionID: "ghost", channel: "subscription", data: "ok"})
	if delivered, dropped := obs.counts(); delivered != 1 || dropped != 1 {
		t.Fatalf("delivered=%d dropped=%d after ghost push", delivered, dropped)
	}

	// The response still lands even though the queue is backed up.
	before := w.out.buffered()
	w.sendResult(7, map[string]any{"done": true})
	if w.out.buffered() <= before {
		t.Fatal("response was not queued")
	}
}
