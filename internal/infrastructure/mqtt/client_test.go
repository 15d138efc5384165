package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
)

// Unit tests in this file do not need a broker. Tests that do are in
// integration_test.go behind the integration build tag.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "iotgateway-test",
		},
		QoS:       1,
		KeepAlive: 30,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 2,
			MaxDelay:     10,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "gw", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "iotgateway-test" {
		t.Errorf("ClientID = %q, want iotgateway-test", opts.ClientID)
	}
	if opts.Username != "gw" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want gw/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.Order {
		t.Error("Order = true, want false so handlers do not block the read loop")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.ConnectRetryInterval != 2*time.Second {
		t.Errorf("ConnectRetryInterval = %v, want 2s", opts.ConnectRetryInterval)
	}
	if opts.MaxReconnectInterval != 10*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 10s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS should not be configured for a plain tcp broker")
	}
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.example.com", Port: 8883, TLS: true, ClientID: "x"},
	}

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://broker.example.com:8883" {
		t.Errorf("Servers[0] = %v, want ssl://broker.example.com:8883", opts.Servers[0])
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want default %v", opts.KeepAlive, defaultKeepAlive)
	}
	if opts.ConnectRetryInterval != defaultReconnectDelay {
		t.Errorf("ConnectRetryInterval = %v, want %v", opts.ConnectRetryInterval, defaultReconnectDelay)
	}
	if opts.MaxReconnectInterval < opts.ConnectRetryInterval {
		t.Error("MaxReconnectInterval must not be below the retry interval")
	}
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty for anonymous", opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config with minimum version expected for ssl broker")
	}
}

func TestNewClient_NotConnected(t *testing.T) {
	c := NewClient(testConfig())

	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
	if got := c.Broker(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("Broker() = %q", got)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := NewClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := NewClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", payload: []byte("x"), qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "a/b", payload: []byte("x"), qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "a/b", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
		{name: "not connected", topic: "a/b", payload: []byte("x"), qos: 1, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := NewClient(testConfig())
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("a/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos: %v", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("a/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("not connected: %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("unsubscribe empty: %v", err)
	}
	if err := c.Unsubscribe("a/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unsubscribe not connected: %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("a/#") {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestHandleDisconnect_ClearsSubscriptionsAndNotifies(t *testing.T) {
	c := NewClient(testConfig())
	c.subscriptions["iot/status/+/+"] = 1

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })

	lost := errors.New("connection reset")
	c.handleDisconnect(lost)

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after connection loss", c.SubscriptionCount())
	}
	if !errors.Is(gotErr, lost) {
		t.Errorf("OnDisconnect error = %v, want %v", gotErr, lost)
	}
}

func TestHandleConnect_InvokesCallback(t *testing.T) {
	c := NewClient(testConfig())
	called := 0
	c.SetOnConnect(func() { called++ })

	c.handleConnect()
	c.handleConnect()

	if called != 2 {
		t.Errorf("OnConnect called %d times, want 2 (initial + reconnect)", called)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status filter", topics.StatusFilter(), "iot/status/+/+"},
		{"pong filter", topics.PongFilter(), "iot/pong/+/+"},
		{"config filter", topics.ConfigFilter(), "iot/config/+/+"},
		{"ping all", topics.PingAll(), "iot/ping/all"},
		{"command all", topics.CommandAll(), "iot/cmd/all/all"},
		{"command", topics.Command("sensor01", "kitchen"), "iot/cmd/sensor01/kitchen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	filters := topics.DeviceFilters()
	if len(filters) != 3 || filters[0] != "iot/status/+/+" || filters[2] != "iot/config/+/+" {
		t.Errorf("DeviceFilters() = %v", filters)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   DeviceTopic
		wantOK bool
	}{
		{"iot/status/sensor01/kitchen", DeviceTopic{ChannelStatus, "sensor01", "kitchen"}, true},
		{"iot/pong/esp32/garage", DeviceTopic{ChannelPong, "esp32", "garage"}, true},
		{"iot/config/esp32/garage/extra", DeviceTopic{ChannelConfig, "esp32", "garage"}, true},
		{"iot/status/sensor01", DeviceTopic{}, false},
		{"iot/cmd/sensor01/kitchen", DeviceTopic{}, false},
		{"home/status/a/b", DeviceTopic{}, false},
		{"iot/status//kitchen", DeviceTopic{}, false},
		{"SYSTEM", DeviceTopic{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := ParseDeviceTopic(tt.topic)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseDeviceTopic(%q) = %+v, %v; want %+v, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPayloadBuilders(t *testing.T) {
	if got := string(CommandPayload(CmdGetConfig)); got != `{"cmd":"GET_CONFIG"}` {
		t.Errorf("CommandPayload() = %s", got)
	}

	now := time.Unix(1700000000, 0)
	var ping struct {
		Cmd  string `json:"cmd"`
		Time int64  `json:"time"`
	}
	if err := json.Unmarshal(PingPayload(now), &ping); err != nil {
		t.Fatalf("PingPayload() is not JSON: %v", err)
	}
	if ping.Cmd != CmdPing || ping.Time != 1700000000 {
		t.Errorf("PingPayload() = %+v", ping)
	}
}
