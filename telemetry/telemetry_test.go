package telemetry_test

import (
	"testing"

	"github.com/AlfredDev/aigw/telemetry"
)

func TestPublishDeliversToSubscribersInOrder(t *testing.T) {
	bus := telemetry.New(10)
	var received []telemetry.Kind
	bus.Subscribe(func(e telemetry.Event) { received = append(received, e.Kind) })

	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchStarted})
	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchCompleted})

	if len(received) != 2 || received[0] != telemetry.KindDispatchStarted || received[1] != telemetry.KindDispatchCompleted {
		t.Fatalf("expected ordered delivery, got %v", received)
	}
}

func TestOverflowDropsOldestAndIncrementsCounter(t *testing.T) {
	bus := telemetry.New(2)
	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchStarted, BackendID: "a"})
	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchStarted, BackendID: "b"})
	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchStarted, BackendID: "c"})

	buffered := bus.Buffered()
	if len(buffered) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(buffered))
	}
	if buffered[0].BackendID != "b" || buffered[1].BackendID != "c" {
		t.Fatalf("expected oldest event dropped, got %+v", buffered)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected dropped counter 1, got %d", bus.Dropped())
	}
}

func TestMultipleSubscribersAllReceiveEvents(t *testing.T) {
	bus := telemetry.New(10)
	var a, b int
	bus.Subscribe(func(telemetry.Event) { a++ })
	bus.Subscribe(func(telemetry.Event) { b++ })

	bus.Publish(telemetry.Event{Kind: telemetry.KindDispatchStarted})

	if a != 1 || b != 1 {
		t.Fatalf("expected both subscribers to receive the event, got a=%d b=%d", a, b)
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := telemetry.NewRequestID()
	b := telemetry.NewRequestID()
	if a == b {
		t.Fatal("expected distinct request IDs")
	}
}
