package chat

import "time"

// SenderKind classifies who wrote a message.
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderAgent    SenderKind = "agent"
	SenderGuest    SenderKind = "guest"
)

// Valid reports whether the kind is one of the known senders.
func (k SenderKind) Valid() bool {
	switch k {
	case SenderCustomer, SenderAgent, SenderGuest:
		return true
	}
	return false
}

// MessageKind classifies the message payload.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageFile  MessageKind = "file"
	MessageImage MessageKind = "image"
)

// Valid reports whether the kind is one of the known payload types.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageFile, MessageImage:
		return true
	}
	return false
}

// Message is one turn in a session transcript. Messages are append-only;
// after creation only the read flag ever changes, and only from false
// to true.
//
// SenderID is empty for guests, who have no account. SentAt is assigned
// at append time and is non-decreasing within a session.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	SenderKind SenderKind  `json:"senderKind"`
	SenderID   string      `json:"senderId,omitempty"`
	SenderName string      `json:"senderName"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	IsRead     bool        `json:"isRead"`
	SentAt     time.Time   `json:"sentAt"`
}
