package transport

import (
	"context"
	"testing"
)

func TestFakeBusDeliversToOtherPeersOnly(t *testing.T) {
	bus := NewFakeBus()
	a := bus.NewTransport()
	b := bus.NewTransport()
	ctx := context.Background()

	if err := a.Connect(ctx, "race-ABCDEF"); err != nil {
		t.Fatalf("a.Connect: %v", err)
	}
	if err := b.Connect(ctx, "race-ABCDEF"); err != nil {
		t.Fatalf("b.Connect: %v", err)
	}

	var aReceived, bReceived [][]byte
	a.OnMessage(func(raw []byte) { aReceived = append(aReceived, raw) })
	b.OnMessage(func(raw []byte) { bReceived = append(bReceived, raw) })

	if err := a.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("a.Send: %v", err)
	}

	if len(aReceived) != 0 {
		t.Fatalf("sender should not receive its own message, got %d", len(aReceived))
	}
	if len(bReceived) != 1 || string(bReceived[0]) != "hello" {
		t.Fatalf("peer did not receive message: %v", bReceived)
	}
}

func TestFakeTransportSendWhileDisconnectedFails(t *testing.T) {
	bus := NewFakeBus()
	a := bus.NewTransport()
	if err := a.Send(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error sending while disconnected")
	}
}

func TestFakeTransportDropNext(t *testing.T) {
	bus := NewFakeBus()
	a := bus.NewTransport()
	b := bus.NewTransport()
	ctx := context.Background()
	a.Connect(ctx, "race-XYZ")
	b.Connect(ctx, "race-XYZ")

	var received int
	b.OnMessage(func(raw []byte) { received++ })

	a.DropNext = 1
	a.Send(ctx, []byte("dropped"))
	a.Send(ctx, []byte("delivered"))

	if received != 1 {
		t.Fatalf("received = %d, want 1 (one dropped, one delivered)", received)
	}
}
