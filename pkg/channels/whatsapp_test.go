package channels

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trueselph/wappgate/pkg/bus"
	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/gateway"
	"github.com/trueselph/wappgate/pkg/session"
)

func newTestChannel(t *testing.T, gatewayURL string, channelCfg config.ChannelConfig) (*WhatsAppChannel, *bus.MessageBus) {
	t.Helper()
	client := gateway.NewClient(config.GatewayConfig{
		BaseURL:  gatewayURL,
		Instance: "testinst",
		Token:    "tok",
	})
	registrar := session.NewRegistrar(client, config.RegistrationConfig{MaxAttempts: 1})
	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)
	return NewWhatsAppChannel(channelCfg, client, registrar, messageBus), messageBus
}

func postWebhook(t *testing.T, ch *WhatsAppChannel, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ch.handleWebhook(rec, req)
	return rec
}

func chatPayload(id, from, text string) map[string]interface{} {
	return map[string]interface{}{
		"event":      "onmessage",
		"id":         id,
		"type":       "chat",
		"from":       from + "@c.us",
		"to":         "5559999@c.us",
		"content":    text,
		"notifyName": "Alice",
	}
}

// TestHandleWebhook_PublishesInbound verifies a chat event lands on the bus
func TestHandleWebhook_PublishesInbound(t *testing.T) {
	ch, messageBus := newTestChannel(t, "http://localhost:1", config.ChannelConfig{})

	rec := postWebhook(t, ch, chatPayload("m1", "5551234", "hello"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := messageBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Channel != "whatsapp" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.SenderID != "5551234" {
		t.Errorf("sender = %q", msg.SenderID)
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.CorrelationID == "" {
		t.Error("correlation id missing")
	}
	if msg.Metadata["message_id"] != "m1" {
		t.Errorf("message_id metadata = %q", msg.Metadata["message_id"])
	}
	if msg.Metadata["sender_name"] != "Alice" {
		t.Errorf("sender_name metadata = %q", msg.Metadata["sender_name"])
	}
}

// TestHandleWebhook_Dedupe verifies redeliveries of the same id are dropped
func TestHandleWebhook_Dedupe(t *testing.T) {
	ch, messageBus := newTestChannel(t, "http://localhost:1", config.ChannelConfig{DedupeTTLSeconds: 60})

	postWebhook(t, ch, chatPayload("dup-1", "5551234", "first"))
	postWebhook(t, ch, chatPayload("dup-1", "5551234", "first again"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := messageBus.ConsumeInbound(ctx); !ok {
		t.Fatal("first delivery should be published")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, ok := messageBus.ConsumeInbound(ctx2); ok {
		t.Error("duplicate delivery should be dropped")
	}
}

// TestHandleWebhook_Allowlist verifies unknown senders are ignored
func TestHandleWebhook_Allowlist(t *testing.T) {
	ch, messageBus := newTestChannel(t, "http://localhost:1", config.ChannelConfig{
		AllowFrom: config.FlexibleStringSlice{"5550000"},
	})

	rec := postWebhook(t, ch, chatPayload("m2", "5551234", "hi"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, allowlist rejection must not error to the gateway", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := messageBus.ConsumeInbound(ctx); ok {
		t.Error("disallowed sender should not be published")
	}
}

// TestHandleWebhook_IgnoredEvent verifies non-message events are dropped quietly
func TestHandleWebhook_IgnoredEvent(t *testing.T) {
	ch, messageBus := newTestChannel(t, "http://localhost:1", config.ChannelConfig{})

	rec := postWebhook(t, ch, map[string]interface{}{"event": "onpresencechanged"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := messageBus.ConsumeInbound(ctx); ok {
		t.Error("ignored event should not be published")
	}
}

// TestHandleWebhook_BadJSON verifies undecodable bodies get a 400
func TestHandleWebhook_BadJSON(t *testing.T) {
	ch, _ := newTestChannel(t, "http://localhost:1", config.ChannelConfig{})

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	ch.handleWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestHandleWebhook_MethodGate verifies only POST is accepted
func TestHandleWebhook_MethodGate(t *testing.T) {
	ch, _ := newTestChannel(t, "http://localhost:1", config.ChannelConfig{})

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp", nil)
	rec := httptest.NewRecorder()
	ch.handleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// TestSend_TextDispatch verifies outbound text reaches the send endpoint
func TestSend_TextDispatch(t *testing.T) {
	var path string
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	ch, _ := newTestChannel(t, srv.URL, config.ChannelConfig{})
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "5551234", Content: "reply text"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if path != "/api/testinst/send-message" {
		t.Errorf("send hit %s", path)
	}
	if got["message"] != "reply text" {
		t.Errorf("message = %v", got["message"])
	}
}

// TestSend_MediaURL verifies URL media references are fetched and encoded
func TestSend_MediaURL(t *testing.T) {
	content := []byte("fake png bytes")
	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer mediaSrv.Close()

	var path string
	var got map[string]interface{}
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer gwSrv.Close()

	ch, _ := newTestChannel(t, gwSrv.URL, config.ChannelConfig{})
	err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID:  "5551234",
		Content: "look",
		Media:   []string{mediaSrv.URL + "/pics/photo.png?sig=abc"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if path != "/api/testinst/send-file" {
		t.Errorf("media hit %s", path)
	}
	if got["filename"] != "photo.png" {
		t.Errorf("filename = %v", got["filename"])
	}
	encoded, _ := got["base64"].(string)
	if !strings.HasPrefix(encoded, "data:") {
		t.Fatalf("base64 = %.40q, want data URI prefix", encoded)
	}
	_, b64, found := strings.Cut(encoded, ";base64,")
	if !found {
		t.Fatalf("base64 = %.40q, missing base64 marker", encoded)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || !bytes.Equal(raw, content) {
		t.Errorf("decoded media does not match served bytes")
	}
	if got["caption"] != "look" {
		t.Errorf("caption = %v", got["caption"])
	}
}

// TestHandleWebhook_MediaBlob verifies inline media is spooled to disk
func TestHandleWebhook_MediaBlob(t *testing.T) {
	ch, messageBus := newTestChannel(t, "http://localhost:1", config.ChannelConfig{})

	content := []byte("inline image payload")
	payload := map[string]interface{}{
		"event":      "onmessage",
		"id":         "media-1",
		"type":       "image",
		"from":       "5551234@c.us",
		"body":       base64.StdEncoding.EncodeToString(content),
		"mimetype":   "image/png",
		"caption":    "spooled",
		"notifyName": "Alice",
	}
	postWebhook(t, ch, payload)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := messageBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if len(msg.Media) != 1 {
		t.Fatalf("media paths = %v, want one entry", msg.Media)
	}
	t.Cleanup(func() { os.Remove(msg.Media[0]) })

	data, err := os.ReadFile(msg.Media[0])
	if err != nil {
		t.Fatalf("spooled file unreadable: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("spooled bytes do not match the decoded blob")
	}
	// untitled image blobs are named by MIME category
	if !strings.Contains(filepath.Base(msg.Media[0]), "image") {
		t.Errorf("spooled name = %q, want category in name", filepath.Base(msg.Media[0]))
	}
	if msg.Content != "spooled" {
		t.Errorf("content = %q, caption should carry over", msg.Content)
	}
}

// TestSend_PollDispatch verifies outbound polls use the poll endpoint
func TestSend_PollDispatch(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	ch, _ := newTestChannel(t, srv.URL, config.ChannelConfig{})
	err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID: "5551234",
		Poll:   &bus.Poll{Name: "lunch?", Choices: []string{"pizza", "sushi"}},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if path != "/api/testinst/send-poll-message" {
		t.Errorf("poll hit %s", path)
	}
}

// TestSend_GatewayError verifies an error Result surfaces as a Go error
func TestSend_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("gateway exploded"))
	}))
	defer srv.Close()

	ch, _ := newTestChannel(t, srv.URL, config.ChannelConfig{})
	if err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "5551234", Content: "x"}); err == nil {
		t.Error("expected error from failing gateway")
	}
}

// TestBaseChannel_Allowlist verifies the shared allowlist semantics
func TestBaseChannel_Allowlist(t *testing.T) {
	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	open := NewBaseChannel("whatsapp", messageBus, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist should admit everyone")
	}

	gated := NewBaseChannel("whatsapp", messageBus, []string{"5550000"})
	if !gated.IsAllowed("5550000") {
		t.Error("listed sender should be allowed")
	}
	if gated.IsAllowed("5551234") {
		t.Error("unlisted sender should be rejected")
	}
}
