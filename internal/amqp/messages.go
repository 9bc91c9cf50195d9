package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	EntryCreated MessageType = "entry.created"
	EntryDeleted MessageType = "entry.deleted"
)

// EntryMessage tells the sync worker that a ledger entry changed. It carries
// only identifiers; the worker reads the entry itself from the database.
type EntryMessage struct {
	MessageID string      `json:"message_id"`
	Type      MessageType `json:"type"`
	EntryID   int64       `json:"entry_id"`
	UserID    int64       `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEntryMessage(typ MessageType, userID, entryID int64) *EntryMessage {
	return &EntryMessage{
		MessageID: uuid.NewString(),
		Type:      typ,
		EntryID:   entryID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *EntryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntryMessageFromJSON decodes and validates a message body.
func EntryMessageFromJSON(data []byte) (*EntryMessage, error) {
	var msg EntryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case EntryCreated, EntryDeleted:
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	if msg.EntryID <= 0 {
		return nil, fmt.Errorf("message %s: missing entry id", msg.MessageID)
	}
	return &msg, nil
}
