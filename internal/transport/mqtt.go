package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTTransport implements Transport over github.com/eclipse/paho.mqtt.golang,
// publishing/subscribing at QoS 0 (at-most-once delivery): connect/publish/
// reconnect handling plus a subscribe-and-dispatch message callback.
type MQTTTransport struct {
	broker   string
	clientID string

	mu             sync.RWMutex
	client         mqtt.Client
	channel        string
	messageCbs     map[int]func(raw []byte)
	stateCbs       map[int]func(ConnectionState)
	nextCbID       int
	connectedState ConnectionState
}

const mqttQoS = 0

// NewMQTTTransport creates a transport bound to broker (e.g.
// "tcp://localhost:1883") with the given MQTT client id.
func NewMQTTTransport(broker, clientID string) *MQTTTransport {
	return &MQTTTransport{
		broker:     broker,
		clientID:   clientID,
		messageCbs: make(map[int]func(raw []byte)),
		stateCbs:   make(map[int]func(ConnectionState)),
	}
}

// Connect joins channel, establishing the MQTT connection on first call.
func (t *MQTTTransport) Connect(ctx context.Context, channel string) error {
	t.mu.Lock()
	t.channel = channel
	t.mu.Unlock()

	if t.client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(t.broker)
		opts.SetClientID(t.clientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(2 * time.Second)
		opts.SetMaxReconnectInterval(30 * time.Second)

		opts.OnConnect = func(c mqtt.Client) {
			t.setState(StateConnected)
			slog.Info("transport connected", "broker", t.broker, "channel", channel)
		}
		opts.OnConnectionLost = func(c mqtt.Client, err error) {
			t.setState(StateDisconnected)
			slog.Warn("transport connection lost, reconnecting", "error", err)
		}

		t.client = mqtt.NewClient(opts)

		t.setState(StateConnecting)
		token := t.client.Connect()
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("transport: connect timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("transport: connect: %w", err)
		}
	}

	token := t.client.Subscribe(channel, mqttQoS, t.handleMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("transport: subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: subscribe: %w", err)
	}

	return nil
}

// Disconnect leaves the channel and closes the MQTT connection. Idempotent.
func (t *MQTTTransport) Disconnect() error {
	t.mu.RLock()
	client, channel := t.client, t.channel
	t.mu.RUnlock()

	if client == nil {
		return nil
	}
	if client.IsConnected() && channel != "" {
		client.Unsubscribe(channel).Wait()
	}
	client.Disconnect(250)
	t.setState(StateDisconnected)
	return nil
}

// Send publishes raw to the joined channel at QoS 0.
func (t *MQTTTransport) Send(ctx context.Context, raw []byte) error {
	t.mu.RLock()
	client, channel := t.client, t.channel
	t.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("transport: not connected")
	}

	token := client.Publish(channel, mqttQoS, false, raw)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("transport: publish timeout")
	}
	return token.Error()
}

// OnMessage registers cb for every message received on the joined channel.
func (t *MQTTTransport) OnMessage(cb func(raw []byte)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextCbID
	t.nextCbID++
	t.messageCbs[id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.messageCbs, id)
		t.mu.Unlock()
	}
}

// OnState registers cb for connectivity changes.
func (t *MQTTTransport) OnState(cb func(ConnectionState)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextCbID
	t.nextCbID++
	t.stateCbs[id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.stateCbs, id)
		t.mu.Unlock()
	}
}

func (t *MQTTTransport) handleMessage(client mqtt.Client, msg mqtt.Message) {
	t.mu.RLock()
	cbs := make([]func([]byte), 0, len(t.messageCbs))
	for _, cb := range t.messageCbs {
		cbs = append(cbs, cb)
	}
	t.mu.RUnlock()

	payload := msg.Payload()
	for _, cb := range cbs {
		cb(payload)
	}
}

func (t *MQTTTransport) setState(state ConnectionState) {
	t.mu.Lock()
	t.connectedState = state
	cbs := make([]func(ConnectionState), 0, len(t.stateCbs))
	for _, cb := range t.stateCbs {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(state)
	}
}
