package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// statusDisconnected is the sentinel the gateway reports after a successful
// logout.
const statusDisconnected = "Disconnected"

// Client talks to one WPPConnect instance. It holds no connection state
// beyond the shared http.Client; every operation is a single one-shot
// request. The token is mutable because session registration may mint a
// replacement when the gateway rejects the configured one.
type Client struct {
	apiURL    string
	instance  string
	secretKey string
	http      *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := defaultTimeout
	if cfg.HTTPTimeout > 0 {
		timeout = time.Duration(cfg.HTTPTimeout) * time.Second
	}
	return &Client{
		apiURL:    strings.TrimRight(cfg.BaseURL, "/"),
		instance:  cfg.Instance,
		secretKey: cfg.SecretKey,
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) Instance() string { return c.instance }

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) sessionURL(endpoint string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.apiURL, c.instance, strings.TrimLeft(endpoint, "/"))
}

// do is the single transport primitive every JSON operation funnels through.
func (c *Client) do(ctx context.Context, method, url string, payload map[string]interface{}, headers map[string]string) Result {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errResult("marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errResult("build request: %v", err)
	}

	if headers == nil {
		headers = map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + c.Token(),
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.ErrorCF("gateway", "Request failed", map[string]interface{}{
			"method": method,
			"url":    url,
			"error":  err.Error(),
		})
		return errResult("%v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResult("read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.ErrorCF("gateway", "Request returned error status", map[string]interface{}{
			"method": method,
			"url":    url,
			"status": resp.StatusCode,
		})
		return errResult("%d: %s", resp.StatusCode, string(raw))
	}

	if len(raw) == 0 {
		return Result{"ok": true, "no_content": true}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// some endpoints answer 2xx with non-JSON bodies
		return Result{"ok": true, "raw": string(raw)}
	}
	return Result(parsed)
}

// Status fetches the current session state (GET status-session).
func (c *Client) Status(ctx context.Context) Result {
	return c.do(ctx, http.MethodGet, c.sessionURL("status-session"), nil, nil)
}

// CheckConnection reports whether the paired device is reachable.
func (c *Client) CheckConnection(ctx context.Context) Result {
	return c.do(ctx, http.MethodGet, c.sessionURL("check-connection-session"), nil, nil)
}

// HostDevice returns the paired device's info and number.
func (c *Client) HostDevice(ctx context.Context) Result {
	return c.do(ctx, http.MethodGet, c.sessionURL("host-device"), nil, nil)
}

// StartSession starts the instance, registering the webhook the gateway will
// deliver events to.
func (c *Client) StartSession(ctx context.Context, webhook string, waitQRCode bool) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("start-session"), map[string]interface{}{
		"webhook":    webhook,
		"waitQrCode": waitQRCode,
	}, nil)
}

// CloseSession stops the instance without unpairing the device.
func (c *Client) CloseSession(ctx context.Context) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("close-session"), nil, nil)
}

// Logout unpairs the device. True only when the gateway confirms the session
// ended up disconnected.
func (c *Client) Logout(ctx context.Context) bool {
	res := c.do(ctx, http.MethodPost, c.sessionURL("logout-session"), nil, nil)
	if !res.OK() {
		logger.WarnCF("gateway", "Logout failed", map[string]interface{}{
			"instance": c.instance,
			"error":    res.ErrText(),
		})
		return false
	}
	return strings.EqualFold(res.Str("status"), statusDisconnected)
}

// GenerateToken mints a fresh API token using the secret key. This is the
// only unauthenticated call on the surface.
func (c *Client) GenerateToken(ctx context.Context) Result {
	if c.secretKey == "" {
		return errResult("secret key required")
	}
	url := fmt.Sprintf("%s/api/%s/%s/generate-token", c.apiURL, c.instance, c.secretKey)
	return c.do(ctx, http.MethodPost, url, nil, map[string]string{
		"Content-Type": "application/json",
	})
}

// QRCode fetches the pairing QR image and returns its bytes base64-encoded
// under "qrcode". The gateway may answer with raw PNG bytes despite the
// call being declared JSON, so the body is encoded unconditionally.
func (c *Client) QRCode(ctx context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL("qrcode-session"), nil)
	if err != nil {
		return errResult("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return errResult("%v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResult("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errResult("%d: %s", resp.StatusCode, string(raw))
	}

	return Result{"qrcode": base64.StdEncoding.EncodeToString(raw)}
}
