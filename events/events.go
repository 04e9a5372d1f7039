// Package events publishes analysis lifecycle events to a queue.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"fmt"
	"time"

	"example/veritas-api/app/config"
)

const TypeAnalysisCompleted = "analysis.completed"

// AnalysisCompleted is emitted after a completed analysis has been recorded.
type AnalysisCompleted struct {
	Type              string    `json:"type"`
	RequestID         string    `json:"request_id,omitempty"`
	UserID            int64     `json:"user_id"`
	Subject           string    `json:"subject"`
	RecordID          int64     `json:"record_id,omitempty"`
	URL               *string   `json:"url,omitempty"`
	TrustScore        int       `json:"trust_score"`
	HasMisinformation bool      `json:"has_misinformation"`
	Tags              []string  `json:"tags"`
	Bias              string    `json:"bias"`
	Streamed          bool      `json:"streamed"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}

type Publisher interface {
	PublishAnalysisCompleted(ctx context.Context, ev AnalysisCompleted) error
	Close() error
}

// NewPublisher builds the publisher selected by cfg.Backend.
func NewPublisher(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return NopPublisher{}, nil
	case "sqs":
		return NewSQSPublisher(ctx, cfg.QueueURL)
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.Queue), nil
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
}

type NopPublisher struct{}

func (NopPublisher) PublishAnalysisCompleted(context.Context, AnalysisCompleted) error { return nil }
func (NopPublisher) Close() error                                                     { return nil }
