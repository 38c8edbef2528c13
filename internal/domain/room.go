package domain

import (
	"fmt"
	"strings"
	"time"
)

type RoomID string

// ValidateRoomID rejects empty or oversized room identifiers.
func ValidateRoomID(id RoomID) error {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return fmt.Errorf("%w: room id is empty", ErrInvalidArgument)
	}
	if len(s) > MaxRoomIDLen {
		return fmt.Errorf("%w: room id too long", ErrInvalidArgument)
	}
	return nil
}

// Member is one entry of the presence list.
type Member struct {
	ID         ConnID `json:"id"`
	Name       string `json:"name"`
	HandRaised bool   `json:"handRaised"`
}

// ChatMessage is immutable once appended to a room's log.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    ConnID `json:"userId"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatMessage trims text, rejects it when empty and truncates it to MaxChatTextLen.
// newID is only called for accepted messages.
func NewChatMessage(newID func() string, author ConnID, name, text string, at time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, fmt.Errorf("%w: message cannot be empty", ErrInvalidArgument)
	}
	return ChatMessage{
		ID:        newID(),
		UserID:    author,
		Name:      name,
		Message:   truncateRunes(text, MaxChatTextLen),
		Timestamp: at.UnixMilli(),
	}, nil
}

// RoomSummary is the read-only view served by the REST API.
type RoomSummary struct {
	ID          RoomID `json:"id"`
	MemberCount int    `json:"memberCount"`
}
