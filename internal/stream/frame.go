// ABOUTME: Event-stream frame encoding for the live message channel
// ABOUTME: Frames are connected, heartbeat, data or error and encode to the text/event-stream grammar

package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies what a frame carries.
type Kind string

const (
	KindConnected Kind = "connected"
	KindHeartbeat Kind = "heartbeat"
	KindData      Kind = "data"
	KindError     Kind = "error"
)

// ConnectedMarker is the payload of the connected frame.
const ConnectedMarker = "Connected to SSE endpoint"

// ControlPrefix marks server control lines that carry no message.
const ControlPrefix = "log:"

// Frame is one unit on the event stream.
type Frame struct {
	Kind Kind
	Data string
}

// ConnectedFrame announces a freshly registered stream.
func ConnectedFrame() Frame {
	return Frame{Kind: KindConnected, Data: ConnectedMarker}
}

// HeartbeatFrame keeps idle connections alive through proxies.
func HeartbeatFrame() Frame {
	return Frame{Kind: KindHeartbeat}
}

// DataFrame wraps v, JSON-encoded, as a data frame.
func DataFrame(v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding frame payload: %w", err)
	}
	return Frame{Kind: KindData, Data: string(payload)}, nil
}

// ErrorFrame wraps v, JSON-encoded, as an error frame.
func ErrorFrame(v any) Frame {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{Kind: KindError, Data: err.Error()}
	}
	return Frame{Kind: KindError, Data: string(payload)}
}

// Encode renders the frame in text/event-stream form:
//
//	: heartbeat\n\n                      heartbeat
//	data: <payload>\n\n                  data
//	event: <kind>\ndata: <payload>\n\n   connected, error
//
// A payload containing newlines is split across several data lines.
func (f Frame) Encode() []byte {
	if f.Kind == KindHeartbeat {
		return []byte(": heartbeat\n\n")
	}

	var b strings.Builder
	if f.Kind != KindData && f.Kind != "" {
		b.WriteString("event: ")
		b.WriteString(string(f.Kind))
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
