package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"execute", Execute{Detector: "todo", Workspace: "/tmp/ws", Options: map[string]any{"max": float64(3)}}},
		{"progress", Progress{Detector: "todo", Processed: 11, Total: 23}},
		{"progress zero", Progress{Detector: "todo", Processed: 0, Total: 0}},
		{"issue", Issue{Detector: "todo", Payload: json.RawMessage(`{"file":"a.go","line":4}`)}},
		{"complete", Complete{Detector: "todo", IssuesCount: 23, DurationMs: 150}},
		{"complete empty", Complete{Detector: "todo", IssuesCount: 0, DurationMs: 0}},
		{"error", Error{Detector: "ghost", Code: CodeDetectorNotFound, Message: "not registered"}},
		{"error with details", Error{Detector: "slow", Code: CodeTimeout, Message: "killed", Details: map[string]any{"elapsedMs": float64(120000)}}},
		{"shutdown", Shutdown{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.Kind() != tt.msg.Kind() {
				t.Errorf("Kind() = %v, want %v", got.Kind(), tt.msg.Kind())
			}
			switch want := tt.msg.(type) {
			case Progress:
				p := got.(Progress)
				if p != want {
					t.Errorf("got %+v, want %+v", p, want)
				}
			case Complete:
				c := got.(Complete)
				if c != want {
					t.Errorf("got %+v, want %+v", c, want)
				}
			case Issue:
				i := got.(Issue)
				if !bytes.Equal(i.Payload, want.Payload) {
					t.Errorf("payload = %s, want %s", i.Payload, want.Payload)
				}
			case Error:
				e := got.(Error)
				if e.Code != want.Code || e.Message != want.Message || e.Detector != want.Detector {
					t.Errorf("got %+v, want %+v", e, want)
				}
			}
		})
	}
}

func TestCompleteZeroCountSurvivesWire(t *testing.T) {
	data, err := Marshal(Complete{Detector: "todo", IssuesCount: 0, DurationMs: 0})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"issuesCount":0`) {
		t.Errorf("zero issuesCount dropped from wire form: %s", data)
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("Unmarshal() expected error for unknown kind")
	}
}

func TestUnmarshalMalformedJSON(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":`))
	if err == nil {
		t.Fatal("Unmarshal() expected error for malformed frame")
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(Complete{}) {
		t.Error("Complete should be terminal")
	}
	if !IsTerminal(Error{}) {
		t.Error("Error should be terminal")
	}
	if IsTerminal(Progress{}) || IsTerminal(Issue{}) || IsTerminal(Execute{}) || IsTerminal(Shutdown{}) {
		t.Error("non-terminal message reported as terminal")
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	sent := []Message{
		Progress{Detector: "todo", Processed: 1, Total: 2},
		Issue{Detector: "todo", Payload: json.RawMessage(`{"file":"x"}`)},
		Complete{Detector: "todo", IssuesCount: 1, DurationMs: 5},
	}
	for _, m := range sent {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := range sent {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode() #%d error = %v", i, err)
		}
		if got.Kind() != sent[i].Kind() {
			t.Errorf("Decode() #%d kind = %v, want %v", i, got.Kind(), sent[i].Kind())
		}
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() at end = %v, want io.EOF", err)
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	input := "\n{\"type\":\"shutdown\"}\n\n"
	dec := NewDecoder(strings.NewReader(input))
	got, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Kind() != KindShutdown {
		t.Errorf("Kind() = %v, want shutdown", got.Kind())
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode() = %v, want io.EOF", err)
	}
}
