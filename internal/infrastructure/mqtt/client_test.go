package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/iotrelay/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "iotrelay-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "relay"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if !opts.Order {
		t.Error("ordered delivery must be enabled")
	}
	if opts.Username != "relay" {
		t.Errorf("Username = %q, want relay", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "relay-1")

	if !opts.WillEnabled || opts.WillTopic != TopicSystemStatus || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())

	if c.IsConnected() {
		t.Fatal("new client reports connected")
	}
	if err := c.Publish("iot/devices/x/control", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("iot/alerts", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeAllDropsTracking(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }
	for _, topic := range []string{TopicAllDeviceData, TopicAlerts} {
		c.subscriptions[topic] = subscription{topic: topic, qos: 1, handler: noop}
	}

	if err := c.UnsubscribeAll([]string{""}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("UnsubscribeAll(empty) error = %v, want ErrInvalidTopic", err)
	}
	if c.SubscriptionCount() != 2 {
		t.Fatalf("SubscriptionCount() = %d after rejected call, want 2", c.SubscriptionCount())
	}

	err := c.UnsubscribeAll([]string{TopicAllDeviceData})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("UnsubscribeAll() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}
	if _, ok := c.subscriptions[TopicAllDeviceData]; ok {
		t.Error("unsubscribed topic would be restored on reconnect")
	}
}

func TestPublishValidation(t *testing.T) {
	c := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"oversized", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *captureLogger) add(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Info(msg string, _ ...any)  { l.add(msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add(msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add(msg) }

func TestWrapHandler(t *testing.T) {
	c := newClient(testConfig())
	logger := &captureLogger{}
	c.SetLogger(logger)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})(nil, fakeMessage{topic: "iot/alerts", payload: []byte("x")})
	if got != "iot/alerts=x" {
		t.Errorf("handler saw %q", got)
	}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad") })(nil, fakeMessage{topic: "a"})
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "b"})

	if len(logger.msgs) != 2 {
		t.Fatalf("logged %v, want error and panic entries", logger.msgs)
	}
	if !strings.Contains(logger.msgs[1], "panic") {
		t.Errorf("second log = %q, want panic entry", logger.msgs[1])
	}
}
