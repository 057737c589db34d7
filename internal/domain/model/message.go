// Package model contains domain models passed between layers.
package model

import "strings"

// User is a platform user as seen in a message.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// Message is the platform-neutral view of a chat message.
type Message struct {
	ID        string // platform message id, unique per channel
	ChannelID string
	GuildID   string
	Author    User
	Content   string
	Mentions  []User
	Seq       uint64 // assigned by the ingestion queue
}

// IsCommand reports whether the message body starts with the command prefix.
func (m Message) IsCommand(prefix string) bool {
	return prefix != "" && strings.HasPrefix(m.Content, prefix)
}

// CounterRecord is one user's running total.
type CounterRecord struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}
