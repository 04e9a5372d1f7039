package models

import (
	"encoding/json"
	"strings"
)

// AnalyzeRequest is the inbound body for both analyze endpoints.
type AnalyzeRequest struct {
	Text         string  `json:"text"`
	Title        *string `json:"title,omitempty"`
	URL          *string `json:"url,omitempty"`
	ForceRefresh bool    `json:"forceRefresh,omitempty"`
}

// Normalize trims optional fields and drops empty ones.
func (r *AnalyzeRequest) Normalize() {
	r.Text = strings.TrimSpace(r.Text)
	r.Title = trimmedOrNil(r.Title)
	r.URL = trimmedOrNil(r.URL)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

type StreamEventType string

const (
	EventStatus   StreamEventType = "status"
	EventPartial  StreamEventType = "partial"
	EventSnippet  StreamEventType = "snippet"
	EventComplete StreamEventType = "complete"
	EventError    StreamEventType = "error"
)

func (t StreamEventType) Known() bool {
	switch t {
	case EventStatus, EventPartial, EventSnippet, EventComplete, EventError:
		return true
	}
	return false
}

// StreamEvent is one SSE frame exchanged with the inference service and
// relayed to the client. Result stays raw until a complete frame is settled.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Progress *float64        `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Snippet  *FlaggedSnippet `json:"snippet,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// LimitReached is the 429 body returned when a daily quota is exhausted.
type LimitReached struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Limit   int    `json:"limit"`
	Used    int    `json:"used"`
	Tier    Tier   `json:"tier"`
}
