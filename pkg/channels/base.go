package channels

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trueselph/wappgate/pkg/bus"
	"github.com/trueselph/wappgate/pkg/logger"
)

// Channel is a chat surface wired to the message bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries the state every channel adapter shares: identity,
// bus access, sender allowlist and the running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool

	mu      sync.RWMutex
	running bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id != "" {
			allowed[id] = true
		}
	}
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowFrom: allowed,
	}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether a sender passes the allowlist. An empty
// allowlist admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

func (c *BaseChannel) setRunning(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = v
}

func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// HandleMessage publishes a normalized inbound message onto the bus with a
// fresh correlation id.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string) {
	msg := bus.InboundMessage{
		Channel:       c.name,
		SenderID:      senderID,
		ChatID:        chatID,
		Content:       content,
		Media:         media,
		Metadata:      metadata,
		CorrelationID: uuid.New().String(),
	}
	if !c.bus.PublishInbound(context.Background(), msg) {
		logger.WarnCF(c.name, "Inbound message dropped, bus unavailable", map[string]interface{}{
			"sender_id": senderID,
		})
	}
}
