package models

import (
	"strings"
	"time"
)

// Key identifies the unit of isolation: one user, optionally scoped to a topic.
type Key struct {
	UserID  string `json:"user_id"`
	TopicID string `json:"topic_id,omitempty"`
}

// String returns "user/topic" (topic may be empty).
func (k Key) String() string {
	return k.UserID + "/" + k.TopicID
}

// ParseKey reverses Key.String.
func ParseKey(s string) Key {
	user, topic, _ := strings.Cut(s, "/")
	return Key{UserID: user, TopicID: topic}
}

// SignalEvent is one normalized per-message emotion signal.
// It is immutable once produced by the signal adapter.
type SignalEvent struct {
	Timestamp    time.Time          `json:"timestamp"`
	Features     map[string]float64 `json:"features,omitempty"`
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	TopicID      string             `json:"topic_id,omitempty"`
	Distribution Distribution       `json:"distribution"`
	Confidence   float64            `json:"confidence"`
}

// Key returns the (user, topic) key the event belongs to.
func (e *SignalEvent) Key() Key {
	return Key{UserID: e.UserID, TopicID: e.TopicID}
}

// Dominant returns the dominant emotion of this single event.
func (e *SignalEvent) Dominant() Emotion {
	return e.Distribution.Dominant()
}
