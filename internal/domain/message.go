package domain

import "time"

// Message is one line of chat history attached to a matched room.
type Message struct {
	MessageID string
	RoomID    string
	SenderID  int64
	Text      string
	CreatedAt time.Time
}
