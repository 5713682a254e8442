package models

import "time"

// Conversation groups an ordered sequence of messages under an opaque id.
// Messages are append-only; slice order is arrival order.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}
