package gateway

import (
	"context"
	"net/http"
)

// SendText sends a plain text message. When replyTo carries a message id the
// call is routed to the reply endpoint instead; callers get one entry point
// and the reply-vs-plain split stays internal.
func (c *Client) SendText(ctx context.Context, phone, message string, isGroup bool, replyTo string) Result {
	if replyTo != "" {
		return c.SendReply(ctx, phone, message, replyTo, isGroup)
	}
	return c.do(ctx, http.MethodPost, c.sessionURL("send-message"), map[string]interface{}{
		"phone":   phone,
		"isGroup": isGroup,
		"message": message,
	}, nil)
}

// SendReply sends a text message quoting an earlier message.
func (c *Client) SendReply(ctx context.Context, phone, message, messageID string, isGroup bool) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("send-reply"), map[string]interface{}{
		"phone":     phone,
		"isGroup":   isGroup,
		"message":   message,
		"messageId": messageID,
	}, nil)
}

// SendMedia sends a file as base64 data (images, video, documents alike).
func (c *Client) SendMedia(ctx context.Context, phone, filename, caption, base64Data string, isGroup bool) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("send-file"), map[string]interface{}{
		"phone":    phone,
		"isGroup":  isGroup,
		"filename": filename,
		"caption":  caption,
		"base64":   base64Data,
	}, nil)
}

// SendPoll sends a poll. selectableCount limits how many choices a voter may
// pick; zero leaves the gateway default.
func (c *Client) SendPoll(ctx context.Context, phone, name string, choices []string, selectableCount int, isGroup bool) Result {
	payload := map[string]interface{}{
		"phone":   phone,
		"isGroup": isGroup,
		"name":    name,
		"choices": choices,
	}
	if selectableCount > 0 {
		payload["options"] = map[string]interface{}{"selectableCount": selectableCount}
	}
	return c.do(ctx, http.MethodPost, c.sessionURL("send-poll-message"), payload, nil)
}

// SendVoiceBase64 sends a push-to-talk voice note from base64 audio data.
func (c *Client) SendVoiceBase64(ctx context.Context, phone, base64PTT string, isGroup bool) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("send-voice-base64"), map[string]interface{}{
		"phone":     phone,
		"isGroup":   isGroup,
		"base64Ptt": base64PTT,
	}, nil)
}

// SendVoiceNote sends a voice note from a file path visible to the gateway.
func (c *Client) SendVoiceNote(ctx context.Context, phone, path string, isGroup bool, quotedMessageID string) Result {
	return c.do(ctx, http.MethodPost, c.sessionURL("send-voice"), map[string]interface{}{
		"phone":           phone,
		"isGroup":         isGroup,
		"path":            path,
		"quotedMessageId": quotedMessageID,
	}, nil)
}
