package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
)

const (
	eventMarker    = "event:"
	dataMarker     = "data:"
	frameSeparator = "\n\n"
)

var (
	// ErrMalformedStream is returned when a stream that looks like frame
	// syntax produced no decodable frames.
	ErrMalformedStream = errors.New("malformed event stream")
	// ErrAmbiguousPayload is returned when a stream produced no frames and
	// the raw text is neither frame syntax nor valid JSON.
	ErrAmbiguousPayload = errors.New("response is neither an event stream nor JSON")
)

// Decoder demultiplexes an arbitrarily-chunked text stream into complete
// frames. Chunks may split anywhere, including inside the blank-line frame
// separator; the carry-over buffer is never reset mid-stream, so frame
// boundaries are always respected.
//
// A Decoder is single-use: Feed chunks as they arrive, then call Flush once
// after the underlying stream ends.
type Decoder struct {
	carry   string
	raw     strings.Builder
	yielded int
}

// NewDecoder returns a Decoder with an empty carry-over buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk to the carry-over buffer and returns every frame that
// is now complete, in wire order. The trailing incomplete piece stays
// buffered for the next call.
func (d *Decoder) Feed(chunk string) []*Frame {
	d.raw.WriteString(chunk)
	// Normalize CRLF pairs. A lone trailing \r is kept as-is: its \n may be
	// at the start of the next chunk, and replacing it early would invent a
	// separator that was never on the wire.
	d.carry = strings.ReplaceAll(d.carry+chunk, "\r\n", "\n")

	var frames []*Frame
	for {
		sep := strings.Index(d.carry, frameSeparator)
		if sep < 0 {
			return frames
		}
		block := d.carry[:sep]
		d.carry = d.carry[sep+len(frameSeparator):]
		if f := parseFrame(block); f != nil {
			d.yielded++
			frames = append(frames, f)
		}
	}
}

// Flush parses whatever remains in the buffer after the stream has ended.
// It returns at most one final frame. If the whole stream produced no frames
// at all, Flush falls back to treating the raw text as a single terminal
// JSON payload (the non-streaming transport), or fails if the text resembles
// frame syntax but never decoded.
func (d *Decoder) Flush() (*Frame, error) {
	rest := strings.ReplaceAll(d.carry, "\r", "\n")
	d.carry = ""
	if strings.TrimSpace(rest) != "" {
		if f := parseFrame(rest); f != nil {
			d.yielded++
			return f, nil
		}
	}
	if d.yielded > 0 {
		return nil, nil
	}

	raw := strings.TrimSpace(d.raw.String())
	if raw == "" {
		return nil, nil
	}
	if resemblesFrameSyntax(raw) {
		return nil, ErrMalformedStream
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, ErrAmbiguousPayload
	}
	// Non-streaming fallback: the whole body is one synthetic done event.
	d.yielded++
	return &Frame{Event: EventDone, Payload: payload, data: []byte(raw)}, nil
}

// Decode reads r to completion and yields frames in arrival order. Read
// errors (including cancellation surfaced through r) terminate the sequence
// with the error; callers classify context.Canceled themselves.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		chunk := make([]byte, 4096)
		for {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			n, err := r.Read(chunk)
			if n > 0 {
				for _, f := range d.Feed(string(chunk[:n])) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				final, flushErr := d.Flush()
				if flushErr != nil {
					yield(nil, flushErr)
					return
				}
				if final != nil {
					yield(final, nil)
				}
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// parseFrame scans one separated block. The last event line wins; data lines
// are concatenated in arrival order before JSON decoding. Returns nil for
// blocks carrying neither an event type nor data (comments, id lines,
// stray blank runs).
func parseFrame(block string) *Frame {
	event := EventMessage
	sawEvent := false
	var data strings.Builder
	sawData := false

	for line := range strings.Lines(block) {
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		switch {
		case strings.HasPrefix(line, eventMarker):
			event = EventType(strings.TrimSpace(line[len(eventMarker):]))
			sawEvent = true
		case strings.HasPrefix(line, dataMarker):
			data.WriteString(strings.TrimPrefix(line[len(dataMarker):], " "))
			sawData = true
		}
	}
	if !sawEvent && !sawData {
		return nil
	}

	raw := data.String()
	payload := map[string]any{}
	enc := []byte(raw)
	if err := json.Unmarshal(enc, &payload); err != nil || payload == nil {
		// Malformed frame: recover locally by wrapping the raw fragment.
		payload = map[string]any{"text": raw}
		enc, _ = json.Marshal(payload)
	}
	return &Frame{Event: event, Payload: payload, data: enc}
}

// resemblesFrameSyntax reports whether text contains what looks like frame
// marker lines, which makes a frameless decode a protocol violation rather
// than a fallback candidate.
func resemblesFrameSyntax(text string) bool {
	for line := range strings.Lines(text) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, dataMarker) || strings.HasPrefix(trimmed, eventMarker) {
			return true
		}
	}
	return false
}
