package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/trueselph/wappgate/pkg/bus"
	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/gateway"
	"github.com/trueselph/wappgate/pkg/logger"
	"github.com/trueselph/wappgate/pkg/session"
	"github.com/trueselph/wappgate/pkg/utils"
	"github.com/trueselph/wappgate/pkg/webhook"
)

const maxWebhookBody = 32 * 1024 * 1024 // media arrives inline as base64

// WhatsAppChannel bridges a WPPConnect instance and the message bus: an HTTP
// server receives the gateway's webhook deliveries, and outbound bus messages
// are dispatched back through the gateway client.
type WhatsAppChannel struct {
	*BaseChannel
	cfg       config.ChannelConfig
	client    *gateway.Client
	registrar *session.Registrar
	server    *http.Server
	seen      *cache.Cache // message id -> struct{}, TTL dedupe of redeliveries
}

func NewWhatsAppChannel(cfg config.ChannelConfig, client *gateway.Client, registrar *session.Registrar, messageBus *bus.MessageBus) *WhatsAppChannel {
	ttl := time.Duration(cfg.DedupeTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WhatsAppChannel{
		BaseChannel: NewBaseChannel("whatsapp", messageBus, cfg.AllowFrom),
		cfg:         cfg,
		client:      client,
		registrar:   registrar,
		seen:        cache.New(ttl, 2*ttl),
	}
}

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(c.cfg.WebhookPath, c.handleWebhook)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	c.server = &http.Server{Addr: addr, Handler: mux}

	logger.InfoCF("whatsapp", "Starting webhook server", map[string]interface{}{
		"addr": addr,
		"path": c.cfg.WebhookPath,
	})

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("whatsapp", "Webhook server failed", map[string]interface{}{
				"error": err.Error(),
			})
			c.setRunning(false)
		}
	}()

	c.setRunning(true)
	return nil
}

func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Register runs the session registration loop. The returned snapshot's token
// must be persisted by the caller when it differs from the configured one.
func (c *WhatsAppChannel) Register(ctx context.Context) session.Session {
	return c.registrar.Register(ctx)
}

// Logout unpairs the device via the gateway.
func (c *WhatsAppChannel) Logout(ctx context.Context) bool {
	return c.client.Logout(ctx)
}

func (c *WhatsAppChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw map[string]interface{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&raw); err != nil {
		logger.WarnCF("whatsapp", "Undecodable webhook delivery", map[string]interface{}{
			"error": err.Error(),
		})
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	msg, ok := webhook.Parse(raw)
	if !ok {
		respondJSON(w, map[string]string{"status": "ignored"})
		return
	}

	// the gateway redelivers on slow responses; drop repeats by message id
	if msg.MessageID != "" {
		if _, dup := c.seen.Get(msg.MessageID); dup {
			logger.DebugCF("whatsapp", "Duplicate delivery dropped", map[string]interface{}{
				"message_id": msg.MessageID,
			})
			respondJSON(w, map[string]string{"status": "duplicate"})
			return
		}
		c.seen.SetDefault(msg.MessageID, struct{}{})
	}

	if !c.IsAllowed(msg.SenderNumber) {
		logger.DebugCF("whatsapp", "Message rejected by allowlist", map[string]interface{}{
			"sender": msg.SenderNumber,
		})
		respondJSON(w, map[string]string{"status": "ignored"})
		return
	}

	content := msg.Body
	if content == "" {
		content = msg.Caption
	}

	var media []string
	if msg.Media != "" {
		if path := c.saveMediaBlob(msg); path != "" {
			media = append(media, path)
		}
	}

	logger.DebugCF("whatsapp", "Received message", map[string]interface{}{
		"sender":  msg.SenderNumber,
		"type":    msg.MessageType,
		"preview": utils.Truncate(content, 50),
	})

	c.HandleMessage(msg.SenderNumber, msg.SenderNumber, content, media, messageMetadata(msg))
	respondJSON(w, map[string]string{"status": "ok"})
}

func messageMetadata(msg webhook.Message) map[string]string {
	metadata := map[string]string{
		"message_id":   msg.MessageID,
		"event_type":   msg.EventType,
		"message_type": msg.MessageType,
		"sender_name":  msg.SenderName,
		"agent_number": msg.AgentNumber,
		"from_me":      strconv.FormatBool(msg.FromMe),
		"is_group":     strconv.FormatBool(msg.IsGroup),
	}
	if msg.Author != "" {
		metadata["author"] = msg.Author
	}
	if msg.PollID != "" {
		metadata["poll_id"] = msg.PollID
		if data, err := json.Marshal(msg.SelectedOptions); err == nil {
			metadata["selected_options"] = string(data)
		}
	}
	if msg.ParentMessage != nil {
		if data, err := json.Marshal(msg.ParentMessage); err == nil {
			metadata["parent_message"] = string(data)
		}
	}
	if len(msg.Location) > 0 {
		if data, err := json.Marshal(msg.Location); err == nil {
			metadata["location"] = string(data)
		}
	}
	return metadata
}

// saveMediaBlob decodes an inline base64 media blob to a temp file and
// returns its path, or "" when decoding fails.
func (c *WhatsAppChannel) saveMediaBlob(msg webhook.Message) string {
	data := msg.Media
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		logger.WarnCF("whatsapp", "Failed to decode media blob", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return ""
	}

	mediaDir := filepath.Join(os.TempDir(), "wappgate_media")
	if err := os.MkdirAll(mediaDir, 0700); err != nil {
		logger.ErrorCF("whatsapp", "Failed to create media directory", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}

	name := msg.Filename
	if name == "" {
		// untitled blobs get named by their coarse media category
		if ft := utils.CategorizeMIME(msg.MimeType, ""); ft.Category != "unknown" {
			name = ft.Category
		} else {
			name = msg.MessageType
		}
	}
	path := filepath.Join(mediaDir, uuid.New().String()[:8]+"_"+utils.SanitizeFilename(name))
	if err := os.WriteFile(path, decoded, 0600); err != nil {
		logger.ErrorCF("whatsapp", "Failed to write media file", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return path
}

// Send dispatches an outbound bus message to the matching gateway operation.
func (c *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	switch {
	case msg.Poll != nil:
		res := c.client.SendPoll(ctx, msg.ChatID, msg.Poll.Name, msg.Poll.Choices, msg.Poll.SelectableCount, msg.IsGroup)
		return resultErr("send poll", res)

	case msg.VoiceBase64 != "":
		res := c.client.SendVoiceBase64(ctx, msg.ChatID, msg.VoiceBase64, msg.IsGroup)
		return resultErr("send voice", res)

	case len(msg.Media) > 0:
		for i, ref := range msg.Media {
			filename, encoded, err := encodeMediaRef(ref)
			if err != nil {
				return fmt.Errorf("encode media %s: %w", filename, err)
			}
			caption := ""
			if i == 0 {
				caption = msg.Content
			}
			res := c.client.SendMedia(ctx, msg.ChatID, filename, caption, encoded, msg.IsGroup)
			if err := resultErr("send media", res); err != nil {
				return err
			}
		}
		return nil

	default:
		res := c.client.SendText(ctx, msg.ChatID, msg.Content, msg.IsGroup, msg.ReplyTo)
		return resultErr("send text", res)
	}
}

// encodeMediaRef base64-encodes an outbound media reference, which may be a
// local file path or an http(s) URL.
func encodeMediaRef(ref string) (filename, encoded string, err error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		name := ref
		if idx := strings.IndexAny(name, "?#"); idx >= 0 {
			name = name[:idx]
		}
		filename = utils.SanitizeFilename(name)
		if filename == "" || filename == "." {
			filename = "file"
		}
		encoded, err = utils.FetchAsBase64(ref, true)
		return filename, encoded, err
	}
	filename = filepath.Base(ref)
	encoded, err = utils.LoadFileAsBase64(ref, true)
	return filename, encoded, err
}

func resultErr(op string, res gateway.Result) error {
	if errText := res.ErrText(); errText != "" {
		return fmt.Errorf("%s: %s", op, errText)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
