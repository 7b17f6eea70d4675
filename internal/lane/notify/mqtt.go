package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker   string // host:port or a full tcp:// / ssl:// URL
	ClientID string
	Username string
	Password string
	// Topic is the prefix; events go to {Topic}/{lane}/cycles and
	// {Topic}/{lane}/alerts.
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes cycle results as JSON.
type MQTT struct {
	cfg    MQTTConfig
	lane   types.Position
	client mqtt.Client
	log    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

func NewMQTT(cfg MQTTConfig, lane types.Position, log zerolog.Logger) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "parking/lanes"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTT{cfg: cfg, lane: lane, log: log.With().Str("component", "mqtt").Logger()}
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (m *MQTT) Connect(ctx context.Context) error {
	broker := m.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		m.setConnected(true)
		m.log.Info().Str("broker", broker).Str("client_id", m.cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.setConnected(false)
		m.log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	m.client = mqtt.NewClient(opts)
	m.log.Info().Str("broker", broker).Msg("connecting to mqtt broker")

	timeout := m.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	token := m.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.setConnected(true)
	return nil
}

func (m *MQTT) CycleFinished(_ context.Context, res types.CycleResult) error {
	return m.publish(CyclesTopic(m.cfg.Topic, m.lane), res)
}

func (m *MQTT) SecurityAlert(_ context.Context, res types.CycleResult) error {
	return m.publish(AlertsTopic(m.cfg.Topic, m.lane), res)
}

func (m *MQTT) publish(topic string, res types.CycleResult) error {
	if !m.isConnected() {
		m.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(res)
	if err != nil {
		m.countError()
		return fmt.Errorf("marshal cycle result: %w", err)
	}

	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()

	m.log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("cycle published")
	return nil
}

func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.log.Info().Msg("mqtt disconnected")
	}
	m.setConnected(false)
	return nil
}

// Stats returns the publish counters.
func (m *MQTT) Stats() (connected bool, published, failed uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected, m.published, m.errors
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func CyclesTopic(prefix string, lane types.Position) string {
	return fmt.Sprintf("%s/%s/cycles", strings.TrimRight(prefix, "/"), lane)
}

func AlertsTopic(prefix string, lane types.Position) string {
	return fmt.Sprintf("%s/%s/alerts", strings.TrimRight(prefix, "/"), lane)
}
