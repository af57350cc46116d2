package webhook

import (
	"fmt"
	"strings"

	"github.com/trueselph/wappgate/pkg/logger"
)

// Recognized gateway event names. Anything else is dropped before parsing.
const (
	EventMessage      = "onmessage"
	EventPollResponse = "onpollresponse"
	EventAck          = "onack"
)

// Pseudo-domains the gateway appends to chat identifiers; stripped to get
// bare numbers and group ids.
const (
	userSuffix  = "@c.us"
	groupSuffix = "@g.us"
)

// Message is the canonical inbound shape handed to the message pipeline.
// It is either fully populated or not produced at all; Parse never yields a
// partially valid message.
type Message struct {
	SenderNumber    string                 `json:"sender_number"`
	MessageID       string                 `json:"message_id"`
	EventType       string                 `json:"event_type"`
	MessageType     string                 `json:"message_type"`
	FromMe          bool                   `json:"from_me"`
	Author          string                 `json:"author"`
	AgentNumber     string                 `json:"agent_number"`
	Caption         string                 `json:"caption"`
	Location        map[string]interface{} `json:"location,omitempty"`
	IsGroup         bool                   `json:"is_group"`
	IsForwarded     bool                   `json:"is_forwarded"`
	Body            string                 `json:"body,omitempty"`
	Media           string                 `json:"media,omitempty"`
	Filename        string                 `json:"filename,omitempty"`
	MimeType        string                 `json:"mime_type,omitempty"`
	Contact         interface{}            `json:"contact,omitempty"`
	PollID          string                 `json:"poll_id,omitempty"`
	SelectedOptions interface{}            `json:"selected_options,omitempty"`
	ParentMessage   interface{}            `json:"parent_message,omitempty"`
	SenderName      string                 `json:"sender_name"`
}

// Parse normalizes a raw gateway webhook event into a canonical Message.
// The second return is false when the event is not a deliverable message:
// unrecognized event, missing sender display name, or a payload broken
// enough to panic the extraction. Parse never raises to its caller.
func Parse(raw map[string]interface{}) (msg Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("webhook", "Error parsing inbound message", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
			msg = Message{}
			ok = false
		}
	}()

	event := str(raw["event"])
	switch event {
	case EventMessage, EventPollResponse, EventAck:
	default:
		return Message{}, false
	}

	msg = Message{
		MessageID:    str(raw["id"]),
		EventType:    event,
		MessageType:  "unknown",
		Author:       stripUserSuffix(str(raw["author"])),
		SenderNumber: stripUserSuffix(str(raw["from"])),
		AgentNumber:  stripUserSuffix(str(raw["to"])),
		Caption:      str(raw["caption"]),
		FromMe:       boolish(raw["fromMe"]),
		IsGroup:      boolish(raw["isGroupMsg"]),
		IsForwarded:  boolish(raw["isForwarded"]),
		SenderName:   str(raw["notifyName"]),
	}
	if dt := str(raw["dataType"]); dt != "" {
		msg.EventType = dt
	}
	if mt := str(raw["type"]); mt != "" {
		msg.MessageType = mt
	}
	if loc, isMap := raw["location"].(map[string]interface{}); isMap {
		msg.Location = loc
	}

	// some gateway builds nest the id and fromMe flag under "id"
	if idObj, isMap := raw["id"].(map[string]interface{}); isMap {
		msg.FromMe = boolish(idObj["fromMe"])
		msg.MessageID = str(idObj["id"])
	}

	if quoted, present := raw["quotedMsg"]; present {
		msg.ParentMessage = quoted
	}

	// a group relay carries an author distinct from the group's pseudo-sender
	if msg.Author != "" && msg.SenderNumber != "" && msg.Author != msg.SenderNumber {
		msg.IsGroup = true
	}

	switch msg.MessageType {
	case "chat":
		msg.Body = str(raw["content"])
		if msg.Body == "" {
			msg.Body = str(raw["body"])
		}
	case "image", "video", "document":
		msg.Media = str(raw["body"])
		msg.Filename = str(raw["filename"])
		msg.MimeType = str(raw["mimetype"])
	case "location":
		msg.Location = map[string]interface{}{
			"latitude":  str(raw["lat"]),
			"longitude": str(raw["lng"]),
		}
	case "audio", "ptt", "sticker":
		msg.Media = str(raw["body"])
	case "contacts", "vcard":
		msg.Contact = raw["body"]
	default:
		if msg.EventType == EventPollResponse {
			if msgID, isMap := raw["msgId"].(map[string]interface{}); isMap {
				msg.PollID = str(msgID["_serialized"])
			}
			msg.SelectedOptions = raw["selectedOptions"]
			msg.SenderNumber = stripUserSuffix(str(raw["chatId"]))
			msg.MessageType = "poll"
		}
	}

	// completeness gate: without a sender display name the whole event is
	// treated as non-deliverable, even when everything else parsed
	if msg.SenderName == "" {
		return Message{}, false
	}

	return msg, true
}

func stripUserSuffix(s string) string {
	s = strings.TrimSuffix(s, userSuffix)
	return strings.TrimSuffix(s, groupSuffix)
}

// str renders a loosely typed payload value as a string; nil becomes "".
func str(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// boolish resolves a flag that may arrive as a plain bool or as an object
// nesting the same flag under "fromMe".
func boolish(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case map[string]interface{}:
		if inner, ok := val["fromMe"].(bool); ok {
			return inner
		}
	}
	return false
}
