package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"example/veritas-api/app/models"

	"github.com/rs/zerolog/log"
)

// State is the terminal state of a relayed stream.
type State int

const (
	StateCompleted State = iota + 1
	StateFailed
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Outcome is what a relay ends with. Result is set only when State is
// StateCompleted; Frames counts frames forwarded to the caller.
type Outcome struct {
	State  State
	Result *models.AnalysisResult
	Err    error
	Frames int
}

func (o Outcome) Completed() bool {
	return o.State == StateCompleted && o.Result != nil
}

// FrameWriter receives one accepted frame payload (the JSON after "data:").
// The slice is only valid for the duration of the call.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(payload []byte) error

func (f FrameWriterFunc) WriteFrame(payload []byte) error { return f(payload) }

var dataPrefix = []byte("data:")

const maxLineBytes = 1024 * 1024

// Relay reads SSE lines from body and forwards every well formed frame to w
// as soon as it is parsed. Malformed or oversized lines and complete frames
// whose result fails validation are logged and dropped. Frames of a type this
// package does not know are forwarded as is. The first complete or error
// frame ends the relay.
func Relay(ctx context.Context, body io.Reader, w FrameWriter) Outcome {
	logger := log.Ctx(ctx)
	out := Outcome{}

	lines := newLineReader(body)
	for {
		line, err := lines.next()
		if errors.Is(err, errLineTooLong) {
			logger.Warn().Int("max_bytes", maxLineBytes).Msg("dropping oversized sse line")
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx, out)
			}
			out.State = StateFailed
			if !errors.Is(err, io.EOF) {
				out.Err = fmt.Errorf("read stream: %w", err)
				return out
			}
			out.Err = ErrStreamIncomplete
			return out
		}
		if ctx.Err() != nil {
			return interrupted(ctx, out)
		}
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}

		var ev models.StreamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Warn().Err(err).Int("bytes", len(payload)).Msg("dropping malformed sse frame")
			continue
		}
		if !ev.Type.Known() {
			logger.Debug().Str("type", string(ev.Type)).Msg("forwarding sse frame with unknown type")
		}

		var result models.AnalysisResult
		if ev.Type == models.EventComplete {
			res, err := models.DecodeAnalysisResult(ev.Result)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping complete frame with invalid result")
				continue
			}
			result = res
		}

		if err := w.WriteFrame(payload); err != nil {
			out.State = StateCancelled
			out.Err = fmt.Errorf("write frame: %w", err)
			return out
		}
		out.Frames++

		switch ev.Type {
		case models.EventComplete:
			out.State = StateCompleted
			out.Result = &result
			return out
		case models.EventError:
			out.State = StateFailed
			out.Err = &StreamError{Message: ev.Message}
			return out
		}
	}
}

var errLineTooLong = errors.New("sse line too long")

// lineReader splits a stream on '\n'. A line longer than maxLineBytes is
// consumed up to its newline and reported as errLineTooLong.
type lineReader struct {
	r   *bufio.Reader
	buf []byte
}

func newLineReader(body io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(body, 64*1024)}
}

func (l *lineReader) next() ([]byte, error) {
	l.buf = l.buf[:0]
	oversized := false
	for {
		chunk, err := l.r.ReadSlice('\n')
		if !oversized {
			if len(l.buf)+len(chunk) > maxLineBytes+1 {
				oversized = true
				l.buf = l.buf[:0]
			} else {
				l.buf = append(l.buf, chunk...)
			}
		}
		switch {
		case err == nil:
			if oversized {
				return nil, errLineTooLong
			}
			return bytes.TrimSuffix(l.buf, []byte("\n")), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(l.buf) > 0 && !oversized:
			return l.buf, nil
		default:
			return nil, err
		}
	}
}

// interrupted classifies a context ending as timeout or cancellation.
func interrupted(ctx context.Context, out Outcome) Outcome {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		out.State = StateTimedOut
		out.Err = ErrTimeout
		return out
	}
	out.State = StateCancelled
	out.Err = ctx.Err()
	return out
}
