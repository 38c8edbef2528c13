package orch

import (
	"github.com/dkeye/huddle/internal/domain"
)

// Server to client event types.
const (
	EventUserList       = "update-user-list"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventHandRaise      = "hand-raise-update"
	EventChatMessage    = "chat-message"
	EventVisibility     = "window-visibility-change"
	EventNewProducer    = "new-producer"
	EventProducerClosed = "producer-closed"
	EventConsumerClosed = "consumer-closed"
)

// Event is a message pushed to a connection without a request id.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type UserPresence struct {
	ID   domain.ConnID `json:"id"`
	Name string        `json:"name"`
}

type HandRaiseUpdate struct {
	UserID     domain.ConnID `json:"userId"`
	Name       string        `json:"name"`
	HandRaised bool          `json:"handRaised"`
}

type VisibilityChange struct {
	UserID    domain.ConnID `json:"userId"`
	Name      string        `json:"name"`
	IsHidden  bool          `json:"isHidden"`
	Timestamp int64         `json:"timestamp"`
}

type ProducerClosed struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumerClosed struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

// Ack is the success reply of requests that return nothing else.
type Ack struct {
	Success bool `json:"success"`
}

// RoomState is the reply to create-room and join-room.
type RoomState struct {
	Success bool                 `json:"success"`
	RoomID  domain.RoomID        `json:"roomId"`
	Message string               `json:"message,omitempty"`
	Members []domain.Member      `json:"members"`
	ChatLog []domain.ChatMessage `json:"chatLog"`
}

type ProduceRequest struct {
	TransportID   domain.TransportID
	Kind          domain.MediaKind
	Type          domain.ProducerType
	RTPParameters domain.RTPParameters
}

type ProduceResult struct {
	ID domain.ProducerID `json:"id"`
}

type ConsumeRequest struct {
	ProducerID   domain.ProducerID
	TransportID  domain.TransportID
	Capabilities domain.RTPCapabilities
}

type ConsumeResult struct {
	ID            domain.ConsumerID    `json:"id"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}
