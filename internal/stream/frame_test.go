// ABOUTME: Tests for event-stream frame encoding
// ABOUTME: Checks the wire form of every frame kind including multi-line payloads

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Encode(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{name: "heartbeat", frame: HeartbeatFrame(), want: ": heartbeat\n\n"},
		{name: "connected", frame: ConnectedFrame(), want: "event: connected\ndata: Connected to SSE endpoint\n\n"},
		{name: "data", frame: Frame{Kind: KindData, Data: `{"text":"hi"}`}, want: "data: {\"text\":\"hi\"}\n\n"},
		{name: "error", frame: Frame{Kind: KindError, Data: "boom"}, want: "event: error\ndata: boom\n\n"},
		{name: "multi-line", frame: Frame{Kind: KindData, Data: "a\nb"}, want: "data: a\ndata: b\n\n"},
		{name: "empty data", frame: Frame{Kind: KindData}, want: "data: \n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.frame.Encode()))
		})
	}
}

func TestDataFrame_JSON(t *testing.T) {
	f, err := DataFrame(map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, KindData, f.Kind)
	assert.Equal(t, `{"text":"hello"}`, f.Data)
}

func TestDataFrame_Unencodable(t *testing.T) {
	_, err := DataFrame(make(chan int))
	assert.Error(t, err)
}

func TestErrorFrame_JSON(t *testing.T) {
	f := ErrorFrame(map[string]any{"success": false})
	assert.Equal(t, KindError, f.Kind)
	assert.Equal(t, `{"success":false}`, f.Data)
}
