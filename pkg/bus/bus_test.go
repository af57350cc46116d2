package bus

import (
	"context"
	"testing"
	"time"
)

// TestPublishConsumeInbound verifies inbound round-trip through the bus
func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	msg := InboundMessage{
		Channel:  "whatsapp",
		SenderID: "5551234",
		Content:  "hello",
	}
	if !mb.PublishInbound(context.Background(), msg) {
		t.Fatal("publish failed")
	}

	got, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("consume failed")
	}
	if got.SenderID != "5551234" || got.Content != "hello" {
		t.Errorf("got %+v", got)
	}
}

// TestPublishConsumeOutbound verifies outbound round-trip through the bus
func TestPublishConsumeOutbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	if !mb.PublishOutbound(context.Background(), OutboundMessage{ChatID: "5551234", Content: "reply"}) {
		t.Fatal("publish failed")
	}

	got, ok := mb.ConsumeOutbound(context.Background())
	if !ok {
		t.Fatal("consume failed")
	}
	if got.ChatID != "5551234" {
		t.Errorf("chat id = %q", got.ChatID)
	}
}

// TestConsume_ContextCancel verifies a cancelled consume returns false
func TestConsume_ContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("consume on an empty bus should fail once ctx expires")
	}
}

// TestClose_UnblocksWaiters verifies Close releases blocked consumers
func TestClose_UnblocksWaiters(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := mb.ConsumeInbound(context.Background())
		done <- ok
	}()

	mb.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("consume after close should report failure")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer still blocked after close")
	}

	// closing twice is safe
	mb.Close()

	if mb.PublishInbound(context.Background(), InboundMessage{}) {
		t.Error("publish after close should fail")
	}
}

// TestRegisterHandler verifies handler lookup by channel name
func TestRegisterHandler(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	called := false
	mb.RegisterHandler("whatsapp", func(msg InboundMessage) error {
		called = true
		return nil
	})

	handler, ok := mb.GetHandler("whatsapp")
	if !ok {
		t.Fatal("handler not found")
	}
	handler(InboundMessage{})
	if !called {
		t.Error("handler was not invoked")
	}

	if _, ok := mb.GetHandler("telegram"); ok {
		t.Error("unknown channel should have no handler")
	}
}
