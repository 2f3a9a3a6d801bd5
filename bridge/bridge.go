// Package bridge fans external system events into the gateway. Operators
// publish JSON payloads on a NATS subject tree and every connected client
// receives them as system frames.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Broadcaster delivers a system event to all live connections and reports
// how many accepted it. *server.Host satisfies this.
type Broadcaster interface {
	Broadcast(event string, extra map[string]any) int
}

const DefaultSubjectPrefix = "tidegate"

type Config struct {
	URL           string // NATS server URL.
	SubjectPrefix string // Subject tree root; defaults to "tidegate".
	Logger        zerolog.Logger
}

// Bridge relays messages from <prefix>.system.<event> to the broadcaster.
// The payload, when it is a JSON object, rides along as extra top-level
// keys on the system frame.
type Bridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	target Broadcaster
	prefix string
	log    zerolog.Logger
}

func New(cfg Config, target Broadcaster) (*Bridge, error) {
	if target == nil {
		return nil, errors.New("missing broadcaster")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("tidegate-bridge"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bridge{
		nc:     nc,
		target: target,
		prefix: cfg.SubjectPrefix,
		log:    cfg.Logger,
	}, nil
}

// Start subscribes to the system subject tree.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(b.prefix+".system.>", func(m *nats.Msg) {
		n := b.handle(m.Subject, m.Data)
		b.log.Debug().Str("subject", m.Subject).Int("delivered", n).Msg("system event relayed")
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	b.sub = sub
	return nil
}

// handle maps one subject and payload onto a broadcast. Non-object
// payloads broadcast the bare event.
func (b *Bridge) handle(subject string, data []byte) int {
	event, ok := strings.CutPrefix(subject, b.prefix+".system.")
	if !ok || event == "" {
		return 0
	}
	var extra map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &extra); err != nil {
			extra = nil
		}
	}
	return b.target.Broadcast(event, extra)
}

// Publish announces a server-originated system event on the subject tree,
// so sibling gateway instances relay it to their own connections.
func (b *Bridge) Publish(event string, extra map[string]any) error {
	if event == "" {
		return errors.New("missing event")
	}
	payload, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	return b.nc.Publish(b.prefix+".system."+event, payload)
}

// Close drains the subscription and the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Drain()
	}
	_ = b.nc.Drain()
}
