package session

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/gateway"
	"github.com/trueselph/wappgate/pkg/logger"
)

// Status enumerates the observable states of a gateway session as seen by
// the registration loop. Raw gateway strings are classified into these at
// the boundary instead of floating through as free text.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusStarting        Status = "STARTING"
	StatusConnecting      Status = "CONNECTING"
	StatusUpdatingWebhook Status = "UPDATING_WEBHOOK"
	StatusQRCode          Status = "QRCODE"
	StatusConnected       Status = "CONNECTED"
	StatusClosed          Status = "CLOSED"
)

// Terminal reports whether the registration loop may stop at this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusUpdatingWebhook, StatusQRCode, StatusConnected:
		return true
	}
	return false
}

// Session is the snapshot a registration run resolves to. Token may differ
// from the one the run started with when token recovery occurred; callers
// must persist it.
type Session struct {
	Status   Status `json:"status"`
	QRCode   string `json:"qr_code,omitempty"`
	Token    string `json:"token"`
	Instance string `json:"instance"`
	Version  string `json:"version,omitempty"`
}

// unauthorizedMarker is matched against status-call error text. The gateway
// reports invalid tokens only as free text, so a substring check is all
// there is; any other error falls through to the retry-as-connecting branch.
const unauthorizedMarker = "Unauthorized"

// Registrar drives a gateway instance toward a usable terminal state:
// UPDATING_WEBHOOK for an already-paired session, or QRCODE when the device
// still needs pairing. Each Register run is independent and idempotent with
// respect to gateway-side state.
type Registrar struct {
	client      *gateway.Client
	webhookURL  string
	waitQRCode  bool
	maxAttempts int
	delay       time.Duration
}

func NewRegistrar(client *gateway.Client, cfg config.RegistrationConfig) *Registrar {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}
	delay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Registrar{
		client:      client,
		webhookURL:  cfg.WebhookURL,
		waitQRCode:  cfg.WaitQRCode,
		maxAttempts: attempts,
		delay:       delay,
	}
}

// Register polls the gateway until a terminal state is reached or attempts
// run out, pacing iterations with a fixed delay. On exhaustion it returns
// the last observed non-terminal state; callers treat anything that is not
// CONNECTED/UPDATING_WEBHOOK/QRCODE as "not yet usable, retry later".
// Cancelling ctx returns the current snapshot immediately.
func (r *Registrar) Register(ctx context.Context) Session {
	sess := Session{
		Status:   StatusConnecting,
		Token:    r.client.Token(),
		Instance: r.client.Instance(),
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res := r.client.Status(ctx)
		if v := res.Str("version"); v != "" {
			sess.Version = v
		}

		rawStatus := strings.ToUpper(res.Str("status"))

		switch {
		case strings.Contains(res.ErrText(), unauthorizedMarker):
			// invalid token; mint a replacement and keep going
			minted := r.client.GenerateToken(ctx)
			if tok := minted.Str("token"); tok != "" {
				r.client.SetToken(tok)
				sess.Token = tok
			} else {
				logger.WarnCF("session", "Token generation failed", map[string]interface{}{
					"instance": sess.Instance,
					"error":    minted.ErrText(),
				})
			}
			sess.Status = StatusCreated

		case rawStatus == string(StatusClosed):
			r.client.StartSession(ctx, r.webhookURL, r.waitQRCode)
			sess.Status = StatusStarting

		case rawStatus == string(StatusConnected):
			// restart so the gateway picks up the configured webhook URL;
			// an already-paired session needs no QR rescan for this
			r.client.CloseSession(ctx)
			r.client.StartSession(ctx, r.webhookURL, r.waitQRCode)
			sess.Status = StatusUpdatingWebhook

		case res.Has("qrcode") || rawStatus == string(StatusQRCode):
			sess.QRCode = r.fetchQRCode(ctx, res)
			sess.Status = StatusQRCode

		default:
			// negotiating, or a non-auth error being retried blindly
			sess.Status = StatusConnecting
		}

		logger.InfoCF("session", "Registration attempt", map[string]interface{}{
			"instance": sess.Instance,
			"attempt":  attempt,
			"status":   string(sess.Status),
		})

		if !r.pause(ctx) {
			return sess
		}
		if sess.Status.Terminal() {
			break
		}
	}

	return sess
}

// pause waits the fixed inter-attempt delay, returning false if ctx was
// cancelled while waiting.
func (r *Registrar) pause(ctx context.Context) bool {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fetchQRCode prefers the qrcode-session endpoint (body bytes, base64).
// When that fails but the status payload carried the raw pairing string,
// the QR image is rendered locally instead.
func (r *Registrar) fetchQRCode(ctx context.Context, statusRes gateway.Result) string {
	qr := r.client.QRCode(ctx)
	if qr.OK() {
		return qr.Str("qrcode")
	}
	logger.WarnCF("session", "QR code fetch failed", map[string]interface{}{
		"instance": r.client.Instance(),
		"error":    qr.ErrText(),
	})

	if urlcode := statusRes.Str("urlcode"); urlcode != "" {
		png, err := qrcode.Encode(urlcode, qrcode.Medium, 256)
		if err != nil {
			logger.ErrorCF("session", "Local QR render failed", map[string]interface{}{
				"error": err.Error(),
			})
			return ""
		}
		return base64.StdEncoding.EncodeToString(png)
	}
	return ""
}
