package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/gateway"
)

// fakeGateway scripts a sequence of status responses and records which
// endpoints each registration attempt touched.
type fakeGateway struct {
	mu       sync.Mutex
	statuses []func(w http.ResponseWriter)
	idx      int
	calls    map[string]int
	qrBody   []byte
}

func (f *fakeGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls[endpointOf(r.URL.Path)]++

		switch endpointOf(r.URL.Path) {
		case "status-session":
			respond := f.statuses[f.idx]
			if f.idx < len(f.statuses)-1 {
				f.idx++
			}
			respond(w)
		case "qrcode-session":
			w.Write(f.qrBody)
		case "generate-token":
			json.NewEncoder(w).Encode(map[string]string{"status": "success", "token": "minted-token"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"status": "success"})
		}
	})
}

// endpointOf maps /api/{instance}/... to its trailing endpoint name.
func endpointOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func jsonStatus(fields map[string]interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(fields)
	}
}

func errorStatus(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		w.Write([]byte(body))
	}
}

func newTestRegistrar(serverURL string, maxAttempts int) (*Registrar, *gateway.Client) {
	client := gateway.NewClient(config.GatewayConfig{
		BaseURL:   serverURL,
		Instance:  "testinst",
		Token:     "stale-token",
		SecretKey: "secret",
	})
	r := NewRegistrar(client, config.RegistrationConfig{
		WebhookURL:  "http://hook.example/wh",
		WaitQRCode:  true,
		MaxAttempts: maxAttempts,
	})
	r.delay = time.Millisecond
	return r, client
}

// TestRegister_UnauthorizedRecovery verifies an invalid token mints exactly
// one replacement and the snapshot carries it
func TestRegister_UnauthorizedRecovery(t *testing.T) {
	fg := &fakeGateway{
		calls: map[string]int{},
		statuses: []func(w http.ResponseWriter){
			errorStatus(http.StatusUnauthorized, `{"message":"Unauthorized"}`),
			jsonStatus(map[string]interface{}{"status": "CONNECTED"}),
		},
	}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	r, client := newTestRegistrar(srv.URL, 5)
	sess := r.Register(context.Background())

	if fg.calls["generate-token"] != 1 {
		t.Errorf("generate-token called %d times, want 1", fg.calls["generate-token"])
	}
	if sess.Token != "minted-token" {
		t.Errorf("snapshot token = %q, want minted-token", sess.Token)
	}
	if client.Token() != "minted-token" {
		t.Errorf("client token = %q, want minted-token", client.Token())
	}
	if sess.Status != StatusUpdatingWebhook {
		t.Errorf("final status = %s, want UPDATING_WEBHOOK", sess.Status)
	}
}

// TestRegister_ClosedToConnected verifies the closed, starting, connected
// progression ends terminal without any QR fetch
func TestRegister_ClosedToConnected(t *testing.T) {
	fg := &fakeGateway{
		calls: map[string]int{},
		statuses: []func(w http.ResponseWriter){
			jsonStatus(map[string]interface{}{"status": "CLOSED"}),
			jsonStatus(map[string]interface{}{"status": "STARTING"}),
			jsonStatus(map[string]interface{}{"status": "CONNECTED", "version": "2.8.6"}),
		},
	}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	r, _ := newTestRegistrar(srv.URL, 10)
	sess := r.Register(context.Background())

	if sess.Status != StatusUpdatingWebhook {
		t.Fatalf("final status = %s, want UPDATING_WEBHOOK", sess.Status)
	}
	if sess.QRCode != "" {
		t.Error("QR code should not be set on the paired path")
	}
	if sess.Version != "2.8.6" {
		t.Errorf("version = %q, want 2.8.6", sess.Version)
	}
	// CLOSED branch starts once, CONNECTED branch stops then starts again
	if fg.calls["start-session"] != 2 {
		t.Errorf("start-session called %d times, want 2", fg.calls["start-session"])
	}
	if fg.calls["close-session"] != 1 {
		t.Errorf("close-session called %d times, want 1", fg.calls["close-session"])
	}
	if fg.calls["qrcode-session"] != 0 {
		t.Errorf("qrcode-session called %d times, want 0", fg.calls["qrcode-session"])
	}
}

// TestRegister_QRCode verifies a QR marker terminates with the encoded QR body
func TestRegister_QRCode(t *testing.T) {
	qrBytes := []byte{0x89, 'P', 'N', 'G'}
	fg := &fakeGateway{
		calls:  map[string]int{},
		qrBody: qrBytes,
		statuses: []func(w http.ResponseWriter){
			jsonStatus(map[string]interface{}{"status": "QRCODE", "qrcode": "data..."}),
		},
	}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	r, _ := newTestRegistrar(srv.URL, 10)
	sess := r.Register(context.Background())

	if sess.Status != StatusQRCode {
		t.Fatalf("final status = %s, want QRCODE", sess.Status)
	}
	want := base64.StdEncoding.EncodeToString(qrBytes)
	if sess.QRCode != want {
		t.Errorf("qr code = %q, want %q", sess.QRCode, want)
	}
	if fg.calls["status-session"] != 1 {
		t.Errorf("status-session called %d times, want 1", fg.calls["status-session"])
	}
}

// TestRegister_AttemptExhaustion verifies a never-terminal session is polled
// exactly maxAttempts times and reports the last non-terminal status
func TestRegister_AttemptExhaustion(t *testing.T) {
	fg := &fakeGateway{
		calls: map[string]int{},
		statuses: []func(w http.ResponseWriter){
			jsonStatus(map[string]interface{}{"status": "INITIALIZING"}),
		},
	}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	r, _ := newTestRegistrar(srv.URL, 4)
	sess := r.Register(context.Background())

	if fg.calls["status-session"] != 4 {
		t.Errorf("status-session called %d times, want 4", fg.calls["status-session"])
	}
	if sess.Status != StatusConnecting {
		t.Errorf("final status = %s, want CONNECTING", sess.Status)
	}
}

// TestRegister_ContextCancel verifies cancellation stops the loop early
func TestRegister_ContextCancel(t *testing.T) {
	fg := &fakeGateway{
		calls: map[string]int{},
		statuses: []func(w http.ResponseWriter){
			jsonStatus(map[string]interface{}{"status": "INITIALIZING"}),
		},
	}
	srv := httptest.NewServer(fg.handler())
	defer srv.Close()

	r, _ := newTestRegistrar(srv.URL, 1000)
	r.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan Session, 1)
	go func() { done <- r.Register(ctx) }()

	select {
	case sess := <-done:
		if sess.Status.Terminal() {
			t.Errorf("cancelled run should not reach a terminal status, got %s", sess.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Register did not return after cancellation")
	}
}

// TestStatus_Terminal verifies the terminal state classification
func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusUpdatingWebhook, StatusQRCode, StatusConnected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusCreated, StatusStarting, StatusConnecting, StatusClosed}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
