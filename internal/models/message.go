package models

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Status tracks UI delivery feedback for user messages. Bot messages carry
// StatusNone.
type Status string

const (
	StatusNone      Status = ""
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// IntentError tags the apology message produced for a failed turn.
const IntentError = "error"

var statusRank = map[Status]int{
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Advances reports whether moving from s to next is a forward step.
func (s Status) Advances(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	return statusRank[next] > cur
}

// Message is one entry of the visible conversation.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Intent    *string   `json:"intent"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status,omitempty"`
}

// IntentPtr returns nil for an empty intent.
func IntentPtr(intent string) *string {
	if intent == "" {
		return nil
	}
	return &intent
}
