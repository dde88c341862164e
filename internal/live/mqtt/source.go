// internal/live/mqtt/source.go
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tamzrod/vitals-relay/internal/live"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Config is broker config for the live source.
type Config struct {
	Broker         string // e.g. tcp://127.0.0.1:1883
	ClientID       string // prefix; a random suffix is appended per connection
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	BufferSize     int
	Logger         *slog.Logger
}

// Source subscribes to per-user vitals topics on an MQTT broker.
// Automatic reconnect is off: a lost connection ends the subscription and
// the caller decides what happens next.
type Source struct {
	cfg Config
	log *slog.Logger

	newClient func(*paho.ClientOptions) paho.Client
}

func New(cfg Config) (*Source, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "vitals"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "vitalsd"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Source{cfg: cfg, log: cfg.Logger, newClient: paho.NewClient}, nil
}

// Supported reports whether a broker is configured.
func (s *Source) Supported() bool { return s != nil && s.cfg.Broker != "" }

// Subscribe connects and subscribes to one topic per type.
func (s *Source) Subscribe(ctx context.Context, userID string, types []vitals.PermissionType) (live.Subscription, error) {
	if !validUserID(userID) {
		return nil, fmt.Errorf("mqtt: invalid user id %q", userID)
	}
	if len(types) == 0 {
		return nil, errors.New("mqtt: no types to subscribe")
	}

	sub := &subscription{
		updates: make(chan vitals.VitalsUpdate, s.cfg.BufferSize),
		done:    make(chan struct{}),
		log:     s.log,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID + "-" + uuid.NewString()[:8])
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		sub.end(fmt.Errorf("mqtt: connection lost: %w", err))
	})

	client := s.newClient(opts)
	sub.client = client

	s.log.Debug("connecting to mqtt broker", "broker", s.cfg.Broker, "user", userID)

	if err := wait(ctx, client.Connect(), s.cfg.ConnectTimeout); err != nil {
		// the connect may still complete after we give up on it
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", s.cfg.Broker, err)
	}

	filters := make(map[string]byte, len(types))
	for _, t := range types {
		topic := Topic(s.cfg.TopicPrefix, userID, t)
		filters[topic] = s.cfg.QoS
		sub.topics = append(sub.topics, topic)
	}

	if err := wait(ctx, client.SubscribeMultiple(filters, sub.handle), s.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: subscribe: %w", err)
	}

	s.log.Info("mqtt subscription established", "broker", s.cfg.Broker, "user", userID, "topics", len(sub.topics))
	return sub, nil
}

// wait blocks on tok bounded by ctx and timeout.
func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errors.New("timeout")
	}
}

// ------------------------------------------------------------

type subscription struct {
	client paho.Client
	topics []string
	log    *slog.Logger

	updates chan vitals.VitalsUpdate
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) Updates() <-chan vitals.VitalsUpdate { return s.updates }
func (s *subscription) Done() <-chan struct{}               { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// end records the first reason and closes done.
func (s *subscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) handle(_ paho.Client, msg paho.Message) {
	t, ok := typeFromTopic(msg.Topic())
	if !ok {
		s.log.Debug("mqtt message on unexpected topic", "topic", msg.Topic())
		return
	}

	u, err := DecodePayload(t, msg.Payload(), time.Now())
	if err != nil {
		s.log.Warn("mqtt payload rejected", "topic", msg.Topic(), "error", err)
		return
	}

	select {
	case s.updates <- u:
	case <-s.done:
	}
}

// Close unsubscribes and disconnects. Idempotent.
func (s *subscription) Close() error {
	s.end(nil)

	if s.client == nil || !s.client.IsConnected() {
		return nil
	}

	var err error
	tok := s.client.Unsubscribe(s.topics...)
	if !tok.WaitTimeout(250 * time.Millisecond) {
		err = errors.New("mqtt: unsubscribe timeout")
	} else if tok.Error() != nil {
		err = fmt.Errorf("mqtt: unsubscribe: %w", tok.Error())
	}

	s.client.Disconnect(250)
	return err
}
