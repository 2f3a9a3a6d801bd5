package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/floegence/tidegate/observability"
	"github.com/floegence/tidegate/protocol"
	"github.com/floegence/tidegate/realtime/ws"
	"github.com/floegence/tidegate/session"
)

// Inbox messages. The worker goroutine consumes them strictly in arrival
// order; everything a worker owns (session, subscriptions, heartbeat
// bookkeeping) is touched only from that goroutine.
type (
	inboundFrame struct{ raw []byte }
	pushDelivery struct {
		subscriptionID string
		channel        string
		data           any
	}
	systemNotice struct {
		event string
		extra map[string]any
	}
	transportClosed struct{ err error }
	shutdownNotice  struct{}
)

const inboxCapacity = 256

type closeReason int

const (
	closeNormal closeReason = iota
	closeServerShutdown
	closeHeartbeatTimeout
	closeTransportGone
	closeTransportError
	closeWriteError
)

// worker owns one client connection end to end: the read pump feeds its
// inbox, the run loop executes the request pipeline, and the write pump
// drains the outbound queue.
type worker struct {
	id   string
	host *Host
	conn *ws.Conn
	log  zerolog.Logger

	inbox chan any
	out   *writeQueue

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by run().
	sess     *session.Session
	storeSub map[string]func()
	rulesSub map[string]func()

	firstPingAt time.Time
	lastPongAt  time.Time

	reason      atomic.Int64
	stopOnce    sync.Once
	quit        chan struct{}
	done        chan struct{}
	pumpStarted bool
	pumpDone    chan struct{}
}

func newWorker(h *Host, id string, conn *ws.Conn) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:       id,
		host:     h,
		conn:     conn,
		log:      h.cfg.Logger.With().Str("conn_id", id).Logger(),
		inbox:    make(chan any, inboxCapacity),
		out:      newWriteQueue(h.cfg.HighWaterMark),
		ctx:      ctx,
		cancel:   cancel,
		storeSub: make(map[string]func()),
		rulesSub: make(map[string]func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// stop requests termination with the given reason. The first caller wins;
// the run loop performs the actual teardown.
func (w *worker) stop(reason closeReason) {
	w.stopOnce.Do(func() {
		w.reason.Store(int64(reason))
		close(w.quit)
	})
}

// post delivers a message to the inbox, giving up if the worker is quitting.
func (w *worker) post(msg any) {
	select {
	case w.inbox <- msg:
	case <-w.quit:
	}
}

// tryPost is the non-blocking variant used by push emitters.
func (w *worker) tryPost(msg any) bool {
	select {
	case w.inbox <- msg:
		return true
	default:
		return false
	}
}

// start launches the three goroutines of the connection actor. The welcome
// frame is queued before the read pump runs, so it is always first on the
// wire.
func (w *worker) start() error {
	welcome, err := protocol.Welcome(w.host.cfg.requiresAuth())
	if err != nil {
		return err
	}
	if err := w.out.enqueue(welcome); err != nil {
		return err
	}
	w.pumpStarted = true
	go w.writePump()
	go w.readPump()
	go w.run()
	return nil
}

func (w *worker) readPump() {
	for {
		_, raw, err := w.conn.ReadMessage(w.ctx)
		if err != nil {
			w.post(transportClosed{err: err})
			return
		}
		w.post(inboundFrame{raw: raw})
	}
}

func (w *worker) writePump() {
	defer close(w.pumpDone)
	for {
		frame, err := w.out.next()
		if err != nil {
			return
		}
		if err := w.conn.WriteText(time.Now().Add(10*time.Second), frame); err != nil {
			w.log.Debug().Err(err).Msg("transport write failed")
			w.stop(closeWriteError)
			w.out.close(err)
			return
		}
	}
}

func (w *worker) run() {
	defer w.finalize()

	ticker := time.NewTicker(w.host.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			if !w.heartbeat() {
				return
			}
		case msg := <-w.inbox:
			if !w.handle(msg) {
				return
			}
		}
	}
}

// handle processes one inbox message. It returns false once the worker
// should tear down.
func (w *worker) handle(msg any) bool {
	switch m := msg.(type) {
	case inboundFrame:
		w.handleFrame(m.raw)
		return true
	case pushDelivery:
		w.handlePush(m)
		return true
	case systemNotice:
		w.sendSystem(m.event, m.extra)
		return true
	case transportClosed:
		if isExpectedClose(m.err) {
			w.stop(closeTransportGone)
		} else {
			w.stop(closeTransportError)
		}
		return false
	case shutdownNotice:
		if w.host.cfg.GracePeriod > 0 {
			w.sendSystem("shutdown", nil)
		}
		w.stop(closeServerShutdown)
		return false
	default:
		return true
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func (w *worker) handleFrame(raw []byte) {
	msg, perr := protocol.Parse(raw)
	if perr != nil {
		w.sendError(0, perr)
		w.host.obs.Request(observability.RequestResultError, string(perr.Kind))
		return
	}
	switch m := msg.(type) {
	case *protocol.Pong:
		w.lastPongAt = time.Now()
	case *protocol.Request:
		w.handleRequest(m)
	}
}

// handlePush delivers a subscription push, dropping it instead of blocking
// when the outbound queue is above the high water mark. Pushes for
// subscriptions that have since been removed are discarded silently.
func (w *worker) handlePush(p pushDelivery) {
	if _, ok := w.storeSub[p.subscriptionID]; !ok {
		if _, ok := w.rulesSub[p.subscriptionID]; !ok {
			return
		}
	}
	frame, err := protocol.Push(p.channel, p.subscriptionID, p.data)
	if err != nil {
		w.log.Error().Err(err).Msg("push serialization failed")
		return
	}
	if w.out.tryEnqueue(frame, w.host.cfg.HighWaterMark) {
		w.host.obs.Push(observability.PushResultDelivered)
	} else {
		w.host.obs.Push(observability.PushResultDropped)
	}
}

func (w *worker) sendSystem(event string, extra map[string]any) {
	frame, err := protocol.System(event, extra)
	if err != nil {
		w.log.Error().Err(err).Str("event", event).Msg("system serialization failed")
		return
	}
	_ = w.out.enqueue(frame)
}

// heartbeat enforces liveness and emits the next ping. Reported false means
// the peer missed the window and the worker is stopping with 4001.
func (w *worker) heartbeat() bool {
	now := time.Now()
	if !w.firstPingAt.IsZero() {
		ref := w.lastPongAt
		if ref.IsZero() {
			ref = w.firstPingAt
		}
		if now.Sub(ref) > w.host.cfg.HeartbeatTimeout {
			w.stop(closeHeartbeatTimeout)
			return false
		}
	}
	frame, err := protocol.Ping()
	if err != nil {
		return true
	}
	if w.out.tryEnqueue(frame, w.host.cfg.HighWaterMark) && w.firstPingAt.IsZero() {
		w.firstPingAt = now
	}
	return true
}

// finalize runs exactly once, in the run goroutine, after stop has fired.
// It releases subscriptions, closes the transport with the right status
// code, and detaches the worker from the host.
func (w *worker) finalize() {
	w.stop(closeTransportGone) // no-op unless run exited without a reason

	panicked := false
	if r := recover(); r != nil {
		w.log.Error().Interface("panic", r).Msg("worker panicked")
		w.reason.Store(int64(closeTransportError))
		panicked = true
	}

	for id, unsub := range w.storeSub {
		unsub()
		delete(w.storeSub, id)
	}
	for id, unsub := range w.rulesSub {
		unsub()
		delete(w.rulesSub, id)
	}

	reason := closeReason(w.reason.Load())
	code, text, obsReason := closeStatus(reason)
	if panicked {
		obsReason = observability.CloseReasonWorkerPanic
	}

	// Flush queued frames before the close handshake, bounded so a dead
	// peer cannot hold the worker hostage.
	w.out.drainClose()
	if w.pumpStarted {
		select {
		case <-w.pumpDone:
		case <-time.After(w.host.cfg.ShutdownTimeout):
		}
	}
	w.out.close(errWriteQueueClosed)
	_ = w.conn.CloseWithStatus(code, text)
	w.cancel()

	w.host.detach(w)
	w.host.obs.Close(obsReason)
	w.log.Debug().Str("reason", text).Msg("connection closed")
	close(w.done)
}

func closeStatus(reason closeReason) (int, string, observability.CloseReason) {
	switch reason {
	case closeServerShutdown:
		return ws.CloseNormal, ws.ReasonServerShutdown, observability.CloseReasonShutdown
	case closeHeartbeatTimeout:
		return ws.CloseHeartbeatTimeout, ws.ReasonHeartbeatTimeout, observability.CloseReasonHeartbeatTimeout
	case closeTransportGone:
		return ws.CloseNormal, ws.ReasonNormalClosure, observability.CloseReasonTransportClosed
	case closeTransportError:
		return ws.CloseNormal, ws.ReasonNormalClosure, observability.CloseReasonTransportError
	case closeWriteError:
		return ws.CloseNormal, ws.ReasonNormalClosure, observability.CloseReasonWriteError
	default:
		return ws.CloseNormal, ws.ReasonNormalClosure, observability.CloseReasonNormal
	}
}

// sendError writes an error frame. id 0 marks failures that occurred before
// a request id could be extracted.
func (w *worker) sendError(id int64, e error) {
	terr := classify(e)
	frame, err := protocol.Error(id, terr)
	if err != nil {
		w.log.Error().Err(err).Msg("error serialization failed")
		return
	}
	_ = w.out.enqueue(frame)
}

func (w *worker) sendResult(id int64, data any) {
	frame, err := protocol.Result(id, data)
	if err != nil {
		w.log.Error().Err(err).Msg("result serialization failed")
		w.sendError(id, fmt.Errorf("result serialization: %w", err))
		return
	}
	_ = w.out.enqueue(frame)
}
