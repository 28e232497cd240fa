package transport

import "context"

// FakeBus is an in-process broadcast medium shared by FakeTransport instances
// joined to the same channel, letting session tests exercise pairing/dedup
// without a real MQTT broker.
type FakeBus struct {
	channels map[string][]*FakeTransport
}

// NewFakeBus creates an empty bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{channels: make(map[string][]*FakeTransport)}
}

// NewTransport creates a new FakeTransport attached to this bus.
func (b *FakeBus) NewTransport() *FakeTransport {
	return &FakeTransport{bus: b}
}

func (b *FakeBus) join(channel string, t *FakeTransport) {
	b.channels[channel] = append(b.channels[channel], t)
}

func (b *FakeBus) leave(channel string, t *FakeTransport) {
	peers := b.channels[channel]
	for i, p := range peers {
		if p == t {
			b.channels[channel] = append(peers[:i], peers[i+1:]...)
			return
		}
	}
}

func (b *FakeBus) publish(channel string, from *FakeTransport, raw []byte) {
	for _, peer := range b.channels[channel] {
		if peer == from {
			continue
		}
		peer.deliver(raw)
	}
}

// FakeTransport is an in-process Transport implementation for tests.
type FakeTransport struct {
	bus     *FakeBus
	channel string

	connected  bool
	messageCbs []func(raw []byte)
	stateCbs   []func(ConnectionState)

	// DropNext, when > 0, discards that many outgoing Send calls without
	// delivering them, for exercising missed-message scenarios.
	DropNext int
}

// Connect joins channel on the shared bus.
func (t *FakeTransport) Connect(ctx context.Context, channel string) error {
	t.channel = channel
	t.connected = true
	t.bus.join(channel, t)
	t.notifyState(StateConnected)
	return nil
}

// Disconnect leaves the channel. Idempotent.
func (t *FakeTransport) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.bus.leave(t.channel, t)
	t.connected = false
	t.notifyState(StateDisconnected)
	return nil
}

// Send publishes raw to every other transport joined to the same channel.
func (t *FakeTransport) Send(ctx context.Context, raw []byte) error {
	if !t.connected {
		return errNotConnected
	}
	if t.DropNext > 0 {
		t.DropNext--
		return nil
	}
	t.bus.publish(t.channel, t, raw)
	return nil
}

// OnMessage registers cb.
func (t *FakeTransport) OnMessage(cb func(raw []byte)) (unsubscribe func()) {
	t.messageCbs = append(t.messageCbs, cb)
	idx := len(t.messageCbs) - 1
	return func() { t.messageCbs[idx] = nil }
}

// OnState registers cb.
func (t *FakeTransport) OnState(cb func(ConnectionState)) (unsubscribe func()) {
	t.stateCbs = append(t.stateCbs, cb)
	idx := len(t.stateCbs) - 1
	return func() { t.stateCbs[idx] = nil }
}

func (t *FakeTransport) deliver(raw []byte) {
	for _, cb := range t.messageCbs {
		if cb != nil {
			cb(raw)
		}
	}
}

func (t *FakeTransport) notifyState(s ConnectionState) {
	for _, cb := range t.stateCbs {
		if cb != nil {
			cb(s)
		}
	}
}

type fakeTransportError string

func (e fakeTransportError) Error() string { return string(e) }

const errNotConnected = fakeTransportError("transport: not connected")
