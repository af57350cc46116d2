package outbox

// ItemStatus is the processing state of an outbox entry on the agent backend.
type ItemStatus string

const (
	StatusPending   ItemStatus = "PENDING"
	StatusProcessed ItemStatus = "PROCESSED"
	StatusFailed    ItemStatus = "FAILED"
)

// Message is the payload carried by an outbox item.
type Message struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

// Item is a single scheduled delivery owned by the agent backend.
type Item struct {
	JobID     string     `json:"job_id"`
	ItemID    string     `json:"item_id"`
	SessionID string     `json:"session_id"`
	Status    ItemStatus `json:"status"`
	Message   Message    `json:"message"`
	AddedAt   string     `json:"added_at"`
}

// ListResult is one page of outbox items.
type ListResult struct {
	Items      []Item `json:"items"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalItems int    `json:"total_items"`
	TotalPages int    `json:"total_pages"`
}
