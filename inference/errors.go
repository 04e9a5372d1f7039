package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamingUnavailable means the streaming endpoint is missing (404)
	// or its gateway is down (502); callers fall back to Predict.
	ErrStreamingUnavailable = errors.New("inference: streaming unavailable")
	ErrUnauthorized         = errors.New("inference: unauthorized")
	ErrTimeout              = errors.New("inference: request timed out")
	ErrStreamIncomplete     = errors.New("inference: stream ended without a complete frame")
)

// LimitError carries the upstream message of a 429 response.
type LimitError struct {
	Message string
}

func (e *LimitError) Error() string {
	if e.Message == "" {
		return "inference: limit reached"
	}
	return "inference: limit reached: " + e.Message
}

// StatusError is any other non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference: upstream status %d: %s", e.Status, e.Body)
}

// StreamError is an error frame emitted by the inference service.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "inference: stream error: " + e.Message
}
