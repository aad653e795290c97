package mqttbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// ValueSink receives one mirrored value. *dispatch.Router.MirrorValue
// satisfies it without mqttbridge importing dispatch.
type ValueSink interface {
	MirrorValue(path string, value json.RawMessage)
}

// Config configures a Bridge.
type Config struct {
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883" or "mqtts://...".
	Broker string
	// Topics are the MQTT topic filters to subscribe to (may contain wildcards).
	Topics []string
	// MountPrefix is the local tree path MQTT topics are mirrored under,
	// e.g. "/mqtt". A topic "home/kitchen/temp" becomes
	// "/mqtt/home/kitchen/temp".
	MountPrefix string
	Username    string
	Password    string
	// RateLimit caps inbound messages processed per Interval; the rest
	// are dropped and counted (spec's ambient concern: the MQTT bridge
	// must not let a noisy broker overwhelm the dispatch actor).
	RateLimit int64
	Interval  time.Duration
}

// Bridge manages one MQTT subscription connection and mirrors incoming
// messages into a ValueSink.
type Bridge struct {
	cfg    Config
	sink   ValueSink
	logger *slog.Logger

	limiter *rateLimiter
	cm      *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect; call Start to begin.
func New(cfg Config, sink ValueSink, logger *slog.Logger) *Bridge {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, sink: sink, logger: logger}
}

// Start connects to the configured MQTT broker and mirrors messages
// until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	b.limiter = newRateLimiter(b.cfg.RateLimit, b.cfg.Interval, b.logger)
	go b.limiter.start(ctx)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt bridge connected", "broker", b.cfg.Broker)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.subscribe(subCtx, cm)
			cm.AddOnPublishReceived(b.onPublish)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt bridge connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "linkbroker-mqttbridge",
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt bridge connect: %w", err)
	}
	b.cm = cm
	return nil
}

func (b *Bridge) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	subs := make([]paho.SubscribeOptions, 0, len(b.cfg.Topics))
	for _, topic := range b.cfg.Topics {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 0})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		b.logger.Warn("mqtt bridge subscribe failed", "error", err)
	}
}

func (b *Bridge) onPublish(pr autopaho.PublishReceived) (bool, error) {
	if !b.limiter.allow() {
		return true, nil
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("mqtt bridge handler panicked", "topic", pr.Packet.Topic, "panic", r)
			}
		}()
		path := b.localPath(pr.Packet.Topic)
		value := valueToJSON(pr.Packet.Payload)
		b.sink.MirrorValue(path, value)
	}()
	return true, nil
}

func (b *Bridge) localPath(topic string) string {
	prefix := strings.TrimSuffix(b.cfg.MountPrefix, "/")
	if prefix == "" {
		prefix = "/mqtt"
	}
	return prefix + "/" + strings.Trim(topic, "/")
}

// valueToJSON wraps a raw MQTT payload as a JSON value: valid JSON
// passes through unchanged, everything else is quoted as a string.
func valueToJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	raw, _ := json.Marshal(string(payload))
	return raw
}

// rateLimiter drops messages once more than limit arrive within
// interval, logging how many were dropped at each boundary. Adapted
// from the broker's general approach to bounding bursty external
// input before it reaches the single dispatch actor.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, interval: interval, logger: logger}
}

func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			received := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt bridge messages dropped by rate limit",
					"received", received, "dropped", dropped, "limit", r.limit)
			}
		}
	}
}

func (r *rateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
