// Package notify fans job events out to live observer connections.
package notify

import (
	"context"
	"encoding/json"
)

// MessageType tags broadcast frames.
type MessageType string

// Broadcast frame types.
const (
	TypeStarted   MessageType = "scrape:started"
	TypeProgress  MessageType = "scrape:progress"
	TypeCompleted MessageType = "scrape:completed"
	TypeError     MessageType = "scrape:error"
)

// Terminal reports whether the frame closes a job's event stream.
func (t MessageType) Terminal() bool {
	return t == TypeCompleted || t == TypeError
}

// Progress is the payload of a scrape:progress frame.
type Progress struct {
	Percent      int    `json:"percent"`
	PagesScraped int    `json:"pages_scraped"`
	TotalPages   int    `json:"total_pages"`
	CurrentURL   string `json:"current_url,omitempty"`
}

// Message is one broadcast frame, serialized as JSON text.
type Message struct {
	Type      MessageType     `json:"type"`
	JobID     string          `json:"job_id"`
	ProjectID string          `json:"project_id,omitempty"`
	URL       string          `json:"url,omitempty"`
	Progress  *Progress       `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Notifier delivers a message to every observer. It never fails from the
// caller's point of view.
type Notifier interface {
	Broadcast(ctx context.Context, msg Message)
}
