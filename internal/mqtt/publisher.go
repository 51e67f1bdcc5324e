package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/zealscott/autoprofiler/internal/config"
	"github.com/zealscott/autoprofiler/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus rather than stalling the session.
const eventBuffer = 64

// Publisher is the part of [autopaho.ConnectionManager] the bridge
// needs. Tests substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge forwards bus events to the broker.
type Bridge struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger

	cm  *autopaho.ConnectionManager
	pub Publisher
}

// New creates a Bridge but does not connect. Call [Bridge.Connect]
// before [Bridge.Run].
func New(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger.With("component", "mqtt"),
	}
}

// Connect starts the autopaho connection manager and waits up to 30s
// for the first connection. A timeout is logged, not returned, since
// autopaho keeps retrying in the background.
func (b *Bridge) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm
	b.pub = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// Run subscribes to bus and publishes every event until ctx is
// cancelled. Events still buffered at cancellation are flushed with a
// short grace period so the terminal session event is not lost.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) error {
	if b.pub == nil {
		return fmt.Errorf("mqtt bridge not connected")
	}
	sub := bus.Subscribe(eventBuffer)
	defer func() {
		sub.Close()
		if n := sub.Dropped(); n > 0 {
			b.logger.Warn("mqtt bridge fell behind, events dropped", "dropped", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			b.drain(sub.C)
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			b.publishEvent(ctx, e)
		}
	}
}

func (b *Bridge) drain(ch <-chan events.Event) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-ch:
			b.publishEvent(flushCtx, e)
		default:
			return
		}
	}
}

func (b *Bridge) publishEvent(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}

	p := &paho.Publish{
		Topic:   b.EventTopic(e),
		Payload: payload,
	}
	// Terminal events are retained so a late subscriber sees the result.
	if e.Kind == events.KindSessionComplete || e.Kind == events.KindSessionFailed {
		p.QoS = 1
		p.Retain = true
	}

	if _, err := b.pub.Publish(ctx, p); err != nil {
		b.logger.Debug("mqtt event publish failed", "topic", p.Topic, "error", err)
		return
	}
	b.logger.Log(ctx, config.LevelTrace, "mqtt event published", "topic", p.Topic)
}

func (b *Bridge) publishAvailability(ctx context.Context, pub Publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		b.logger.Info("mqtt availability published", "status", status)
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.TopicPrefix + "/availability"
}

// EventTopic returns <prefix>/<session_id>/<kind>. Events without a
// session id go under <prefix>/events.
func (b *Bridge) EventTopic(e events.Event) string {
	session, _ := e.Data["session_id"].(string)
	if session == "" {
		session = "events"
	}
	return b.cfg.TopicPrefix + "/" + topicSegment(session) + "/" + topicSegment(e.Kind)
}

// topicSegment strips characters that are not allowed, or that change
// meaning, inside a single topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
