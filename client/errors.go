package client

import (
	"errors"
	"fmt"

	"example/veritas-api/app/models"
	"example/veritas-api/inference"
)

var (
	// ErrStreamingUnavailable is returned when the gateway answers the
	// streaming endpoint with 404 or 502.
	ErrStreamingUnavailable = errors.New("client: streaming endpoint unavailable")
	// ErrStreamIncomplete is returned when a stream ends without a complete frame.
	ErrStreamIncomplete = inference.ErrStreamIncomplete

	ErrNoReceiver    = errors.New("client: no highlight receiver in page")
	ErrSuperseded    = errors.New("client: superseded by a newer analysis")
	ErrNavigatedAway = errors.New("client: navigated away")
	ErrTabClosed     = errors.New("client: tab closed")
)

// StreamError carries the message of an error frame. It is terminal and does
// not trigger the non-streaming fallback.
type StreamError = inference.StreamError

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Limit   int
	Used    int
	Tier    models.Tier
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

// IsLimitReached reports a daily quota rejection.
func (e *APIError) IsLimitReached() bool {
	return e.Code == "limit_reached"
}
