// ABOUTME: Tests for frame classification, conversation filtering and stream consumption
// ABOUTME: Malformed payloads must be skipped without ending the stream

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/stream"
)

func msg(id, from, to string) chat.ChatMessage {
	return chat.ChatMessage{
		ID:        id,
		From:      chat.RawID(from),
		To:        chat.RawID(to),
		Text:      "hi " + id,
		MediaType: chat.MediaText,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func dataFrame(t *testing.T, m chat.ChatMessage) stream.Frame {
	t.Helper()
	f, err := stream.DataFrame(m)
	require.NoError(t, err)
	return f
}

func newTestConsumer(self, peer string) (*Consumer, *LocalMessageSet) {
	view := NewConversationView(self)
	view.SetPeer(peer)
	set := NewLocalMessageSet()
	return NewConsumer(view, set, nil), set
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     bool
	}{
		{"peer to self", "U2", "U1", true},
		{"self to peer", "U1", "U2", true},
		{"third party to self", "U3", "U1", false},
		{"self to third party", "U1", "U3", false},
		{"peer to third party", "U2", "U3", false},
		{"self to self", "U1", "U1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relevant("U1", "U2", msg("m", tt.from, tt.to)))
		})
	}
}

func TestRelevant_NoPeerOpen(t *testing.T) {
	assert.False(t, Relevant("U1", "", msg("m", "U2", "U1")))
}

func TestRelevant_PopulatedRefs(t *testing.T) {
	m := msg("m", "", "")
	m.From = chat.Populated(chat.Profile{ID: "U2", FullName: "Peer"})
	m.To = chat.Populated(chat.Profile{ID: "U1"})

	assert.True(t, Relevant("U1", "U2", m))
}

func TestHandleFrame_Heartbeat(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")

	assert.Equal(t, OutcomeHeartbeat, c.HandleFrame(stream.HeartbeatFrame()))
	assert.Equal(t, OutcomeHeartbeat, c.HandleFrame(stream.Frame{Kind: stream.KindData}))
	assert.Equal(t, OutcomeHeartbeat, c.HandleFrame(stream.Frame{Kind: stream.KindData, Data: ": ping"}))
	assert.Zero(t, set.Len())
}

func TestHandleFrame_Control(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")

	assert.Equal(t, OutcomeControl, c.HandleFrame(stream.ConnectedFrame()))
	assert.Equal(t, OutcomeControl, c.HandleFrame(stream.Frame{Kind: stream.KindData, Data: "log: rotated"}))
	assert.Equal(t, OutcomeControl, c.HandleFrame(stream.Frame{Kind: stream.KindData, Data: stream.ConnectedMarker}))
	assert.Equal(t, OutcomeControl, c.HandleFrame(stream.ErrorFrame(chat.Envelope{Message: "boom"})))
	assert.Zero(t, set.Len())
}

func TestHandleFrame_Malformed(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")

	assert.Equal(t, OutcomeMalformed, c.HandleFrame(stream.Frame{Kind: stream.KindData, Data: "{not json"}))
	assert.Equal(t, OutcomeMalformed, c.HandleFrame(stream.Frame{Kind: stream.KindData, Data: `{"from_user_id": 42}`}))
	assert.Zero(t, set.Len())
}

func TestHandleFrame_AcceptAndReject(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")

	var seen []Outcome
	c.OnMessage = func(_ chat.ChatMessage, o Outcome) { seen = append(seen, o) }

	assert.Equal(t, OutcomeAccepted, c.HandleFrame(dataFrame(t, msg("a", "U2", "U1"))))
	assert.Equal(t, OutcomeRejected, c.HandleFrame(dataFrame(t, msg("b", "U3", "U1"))))
	assert.Equal(t, OutcomeAccepted, c.HandleFrame(dataFrame(t, msg("c", "U1", "U2"))))

	assert.Equal(t, []Outcome{OutcomeAccepted, OutcomeRejected, OutcomeAccepted}, seen)
	require.Equal(t, 2, set.Len())
}

func TestHandleFrame_DuplicateDelivery(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")
	f := dataFrame(t, msg("a", "U2", "U1"))

	var seen []Outcome
	c.OnMessage = func(_ chat.ChatMessage, o Outcome) { seen = append(seen, o) }

	assert.Equal(t, OutcomeAccepted, c.HandleFrame(f))
	assert.Equal(t, OutcomeDuplicate, c.HandleFrame(f))

	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []Outcome{OutcomeAccepted, OutcomeDuplicate}, seen)
}

func TestHandleFrame_PeerSwitch(t *testing.T) {
	view := NewConversationView("U1")
	set := NewLocalMessageSet()
	c := NewConsumer(view, set, nil)

	assert.Equal(t, OutcomeRejected, c.HandleFrame(dataFrame(t, msg("a", "U2", "U1"))))

	view.SetPeer("U2")
	assert.Equal(t, OutcomeAccepted, c.HandleFrame(dataFrame(t, msg("b", "U2", "U1"))))

	view.SetPeer("U3")
	assert.Equal(t, OutcomeRejected, c.HandleFrame(dataFrame(t, msg("c", "U2", "U1"))))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "accepted", OutcomeAccepted.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())
}

func TestConsume_ContinuesPastMalformed(t *testing.T) {
	c, set := newTestConsumer("U1", "U2")

	good, err := json.Marshal(msg("a", "U2", "U1"))
	require.NoError(t, err)

	body := strings.Join([]string{
		"event: connected\ndata: Connected to SSE endpoint\n\n",
		": heartbeat\n\n",
		"data: {garbage\n\n",
		"data: log: hello\n\n",
		"data: " + string(good) + "\n\n",
	}, "")

	require.NoError(t, c.Consume(context.Background(), strings.NewReader(body)))

	msgs := set.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].ID)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestConsume_ReadError(t *testing.T) {
	c, _ := newTestConsumer("U1", "U2")
	boom := errors.New("reset by peer")

	err := c.Consume(context.Background(), failingReader{err: boom})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestConsume_ContextCanceled(t *testing.T) {
	c, _ := newTestConsumer("U1", "U2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	err := c.Consume(ctx, pr)
	assert.ErrorIs(t, err, context.Canceled)
}
