package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"pkt.systems/pslog"
)

// DefaultSubject is the NATS subject events are published on.
const DefaultSubject = "occupd.events"

// NATSConfig configures the NATS-backed bus.
type NATSConfig struct {
	URL     string
	Subject string
	Name    string
	Logger  pslog.Logger
}

// NATS is a Bus backed by a NATS connection, for deployments where observers
// run outside the coordinator process.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  pslog.Logger
}

// NewNATS connects to the broker. Reconnects are handled by the client with
// backoff; events published while disconnected are dropped, which matches
// the at-most-once contract.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Name == "" {
		cfg.Name = "occupd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("bus.nats.disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("bus.nats.reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats: %w", err)
	}
	return &NATS{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

// Publish sends the event as JSON on the configured subject.
func (n *NATS) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *natsSubscription) Events() <-chan Event { return s.ch }

func (s *natsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.done)
	})
	return err
}

// Subscribe attaches a new observer to the subject. Undecodable payloads are
// skipped.
func (n *NATS) Subscribe(ctx context.Context) (Subscription, error) {
	msgCh := make(chan *nats.Msg, subscriberBuffer)
	natsSub, err := n.conn.ChanSubscribe(n.subject, msgCh)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}
	sub := &natsSubscription{
		sub:  natsSub,
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.ch)
		for {
			select {
			case msg := <-msgCh:
				if msg == nil {
					return
				}
				var event Event
				if err := json.Unmarshal(msg.Data, &event); err != nil {
					n.logger.Debug("bus.nats.decode_failed", "error", err)
					continue
				}
				select {
				case sub.ch <- event:
				default:
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}()
	return sub, nil
}

// Close drains and closes the connection.
func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

var _ Bus = (*NATS)(nil)
