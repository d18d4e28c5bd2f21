package protocol

import (
	"context"
	"strings"
	"testing"
)

const sampleStream = "event: status\ndata: {\"stage\":\"start\",\"message\":\"Starting\"}\n\n" +
	"event: agent_text\ndata: {\"text\":\"Hello\"}\n\n" +
	"event: done\ndata: {\"output\":\"Hello\",\"sessionId\":\"s1\"}\n\n"

func decodeAll(t *testing.T, chunks []string) []*Frame {
	t.Helper()
	d := NewDecoder()
	var frames []*Frame
	for _, c := range chunks {
		frames = append(frames, d.Feed(c)...)
	}
	final, err := d.Flush()
	if err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if final != nil {
		frames = append(frames, final)
	}
	return frames
}

func TestDecodeSampleStream(t *testing.T) {
	frames := decodeAll(t, []string{sampleStream})
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}

	if frames[0].Event != EventStatus {
		t.Errorf("frames[0].Event = %q, want %q", frames[0].Event, EventStatus)
	}
	status, err := frames[0].Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.Stage != "start" || status.Message != "Starting" {
		t.Errorf("status = %+v, want stage=start message=Starting", status)
	}

	text, err := frames[1].Text()
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if text.Text != "Hello" {
		t.Errorf("text = %q, want %q", text.Text, "Hello")
	}

	if !frames[2].Terminal() {
		t.Error("done frame should be terminal")
	}
	done, err := frames[2].Done()
	if err != nil {
		t.Fatalf("Done() error: %v", err)
	}
	if done.Output != "Hello" || done.SessionID != "s1" {
		t.Errorf("done = %+v, want output=Hello sessionId=s1", done)
	}
}

// Splitting the stream at every possible byte offset must yield the same
// frame sequence as decoding it in one shot, even when the split lands
// inside the separator.
func TestFrameBoundaryInvariance(t *testing.T) {
	want := decodeAll(t, []string{sampleStream})

	for i := 0; i <= len(sampleStream); i++ {
		got := decodeAll(t, []string{sampleStream[:i], sampleStream[i:]})
		if len(got) != len(want) {
			t.Fatalf("split at %d: got %d frames, want %d", i, len(got), len(want))
		}
		for j := range got {
			if got[j].Event != want[j].Event {
				t.Errorf("split at %d: frame %d event = %q, want %q", i, j, got[j].Event, want[j].Event)
			}
			if string(got[j].Data()) != string(want[j].Data()) {
				t.Errorf("split at %d: frame %d data = %s, want %s", i, j, got[j].Data(), want[j].Data())
			}
		}
	}
}

func TestDecoderEdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantEvent []EventType
	}{
		{
			name:      "default event type is message",
			input:     "data: {\"text\":\"hi\"}\n\n",
			wantEvent: []EventType{EventMessage},
		},
		{
			name:      "CRLF line endings",
			input:     "event: status\r\ndata: {\"stage\":\"a\",\"message\":\"b\"}\r\n\r\n",
			wantEvent: []EventType{EventStatus},
		},
		{
			name:      "multiple frames in one chunk",
			input:     "event: agent_text\ndata: {\"text\":\"a\"}\n\nevent: agent_text\ndata: {\"text\":\"b\"}\n\n",
			wantEvent: []EventType{EventAgentText, EventAgentText},
		},
		{
			name:      "final frame without trailing separator",
			input:     "event: done\ndata: {\"output\":\"x\"}",
			wantEvent: []EventType{EventDone},
		},
		{
			name:      "extra blank lines between frames",
			input:     "event: agent_text\ndata: {\"text\":\"a\"}\n\n\n\nevent: done\ndata: {}\n\n",
			wantEvent: []EventType{EventAgentText, EventDone},
		},
		{
			name:      "last event line wins",
			input:     "event: status\nevent: agent_text\ndata: {\"text\":\"a\"}\n\n",
			wantEvent: []EventType{EventAgentText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := decodeAll(t, []string{tt.input})
			if len(frames) != len(tt.wantEvent) {
				t.Fatalf("got %d frames, want %d", len(frames), len(tt.wantEvent))
			}
			for i, want := range tt.wantEvent {
				if frames[i].Event != want {
					t.Errorf("frame %d event = %q, want %q", i, frames[i].Event, want)
				}
			}
		})
	}
}

func TestMultipleDataLinesConcatenated(t *testing.T) {
	frames := decodeAll(t, []string{"event: done\ndata: {\"output\":\ndata: \"split\"}\n\n"})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	done, err := frames[0].Done()
	if err != nil {
		t.Fatalf("Done() error: %v", err)
	}
	if done.Output != "split" {
		t.Errorf("output = %q, want %q", done.Output, "split")
	}
}

func TestInvalidJSONWrappedAsText(t *testing.T) {
	frames := decodeAll(t, []string{"event: agent_text\ndata: not json at all\n\n"})
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	text, err := frames[0].Text()
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if text.Text != "not json at all" {
		t.Errorf("text = %q, want raw fragment", text.Text)
	}
}

func TestNonStreamingJSONFallback(t *testing.T) {
	d := NewDecoder()
	if frames := d.Feed(`{"output":"direct answer","sessionId":"s2"}`); len(frames) != 0 {
		t.Fatalf("Feed yielded %d frames, want 0", len(frames))
	}
	final, err := d.Flush()
	if err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if final == nil {
		t.Fatal("Flush() returned no frame")
	}
	if final.Event != EventDone {
		t.Errorf("fallback event = %q, want %q", final.Event, EventDone)
	}
	done, err := final.Done()
	if err != nil {
		t.Fatalf("Done() error: %v", err)
	}
	if done.Output != "direct answer" || done.SessionID != "s2" {
		t.Errorf("done = %+v", done)
	}
}

func TestMalformedStreamFails(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			// Looks like frame syntax but every block is unterminated garbage
			// that never forms a frame.
			name:    "frame syntax with no frames",
			input:   "   event:\n",
			wantErr: ErrMalformedStream,
		},
		{
			name:    "neither JSON nor frames",
			input:   "502 Bad Gateway",
			wantErr: ErrAmbiguousPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			d.Feed(tt.input)
			_, err := d.Flush()
			if err == nil {
				t.Fatal("Flush() succeeded, want error")
			}
			if err != tt.wantErr {
				t.Errorf("Flush() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeReader(t *testing.T) {
	d := NewDecoder()
	var events []EventType
	for f, err := range d.Decode(context.Background(), strings.NewReader(sampleStream)) {
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		events = append(events, f.Event)
	}
	if len(events) != 3 || events[0] != EventStatus || events[1] != EventAgentText || events[2] != EventDone {
		t.Errorf("events = %v", events)
	}
}
