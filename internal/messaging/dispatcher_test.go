// ABOUTME: Tests for the message dispatcher
// ABOUTME: Uses the mock store, a fake uploader and a real registry with recorder-backed handles

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/media"
	"github.com/marv1n-le/marvify/internal/store"
	"github.com/marv1n-le/marvify/internal/stream"
)

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// brokenWriter is a flushable response whose writes always fail.
type brokenWriter struct{ header http.Header }

func (b *brokenWriter) Header() http.Header {
	if b.header == nil {
		b.header = http.Header{}
	}
	return b.header
}
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }
func (b *brokenWriter) WriteHeader(int)           {}
func (b *brokenWriter) Flush()                    {}

type fixture struct {
	store    *store.MockStore
	uploader *fakeUploader
	registry *stream.Registry
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMockStore()
	require.NoError(t, st.CreateUser(context.Background(), &store.User{ID: "alice", FullName: "Alice", Username: "alice"}))
	require.NoError(t, st.CreateUser(context.Background(), &store.User{ID: "bob", FullName: "Bob", Username: "bob"}))

	up := &fakeUploader{url: "/media/pic.png"}
	reg := stream.NewRegistry(nil)
	return &fixture{
		store:    st,
		uploader: up,
		registry: reg,
		d:        NewDispatcher(st, up, reg, nil),
	}
}

func (f *fixture) connect(t *testing.T, userID string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h, err := stream.NewHandle(userID, rec)
	require.NoError(t, err)
	f.registry.Register(h)
	return rec
}

func dataFrames(body string) []string {
	var frames []string
	for _, f := range strings.Split(body, "\n\n") {
		if strings.HasPrefix(f, "data: ") {
			frames = append(frames, strings.TrimPrefix(f, "data: "))
		}
	}
	return frames
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  SendRequest
	}{
		{name: "no text no media", req: SendRequest{FromUserID: "alice", ToUserID: "bob"}},
		{name: "whitespace text", req: SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "  \n"}},
		{name: "empty attachment", req: SendRequest{FromUserID: "alice", ToUserID: "bob", Media: &Attachment{Name: "x.png"}}},
		{name: "no recipient", req: SendRequest{FromUserID: "alice", Text: "hi"}},
		{name: "no sender", req: SendRequest{ToUserID: "bob", Text: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.d.Send(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, f.store.MessageCount())
	assert.Equal(t, 0, f.uploader.calls)
}

func TestSend_TextMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, store.MediaTypeText, msg.MediaType)
	require.NotNil(t, msg.From)
	assert.Equal(t, "Alice", msg.From.FullName)
	assert.Equal(t, 1, f.store.MessageCount())
	assert.Equal(t, 0, f.uploader.calls)
}

func TestSend_ImageMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), SendRequest{
		FromUserID: "alice",
		ToUserID:   "bob",
		Media:      &Attachment{Name: "pic.png", Data: []byte{0x89, 'P', 'N', 'G'}},
	})
	require.NoError(t, err)
	assert.Equal(t, store.MediaTypeImage, msg.MediaType)
	assert.Equal(t, "/media/pic.png", msg.MediaURL)
	assert.Equal(t, 1, f.uploader.calls)
}

func TestSend_UploadFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("bucket unavailable")

	_, err := f.d.Send(context.Background(), SendRequest{
		FromUserID: "alice",
		ToUserID:   "bob",
		Text:       "look",
		Media:      &Attachment{Name: "pic.png", Data: []byte("x")},
	})
	assert.ErrorIs(t, err, ErrUpload)
	assert.Equal(t, 0, f.store.MessageCount())
}

func TestSend_InvalidMediaIsBadRequest(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = media.ErrInvalidMedia

	_, err := f.d.Send(context.Background(), SendRequest{
		FromUserID: "alice",
		ToUserID:   "bob",
		Media:      &Attachment{Name: "notes.txt", Data: []byte("x")},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, f.store.MessageCount())
}

func TestSend_StorageFailures(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		f := newFixture(t)
		f.store.CreateMessageErr = errors.New("disk full")
		_, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
		assert.ErrorIs(t, err, ErrStorage)
	})

}

func TestSend_ReloadFailureDeliversStoredRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "bob")
	f.store.GetMessageErr = errors.New("replica lag")

	msg, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Nil(t, msg.From)
	assert.Equal(t, 1, f.store.MessageCount())

	frames := dataFrames(rec.Body.String())
	require.Len(t, frames, 1)
	var got chat.ChatMessage
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "alice", got.SenderID())
	assert.Nil(t, got.From.Profile())
}

func TestSend_PushesOnceToEachParticipant(t *testing.T) {
	f := newFixture(t)
	aliceRec := f.connect(t, "alice")
	bobRec := f.connect(t, "bob")

	msg, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
	require.NoError(t, err)

	for name, rec := range map[string]*httptest.ResponseRecorder{"alice": aliceRec, "bob": bobRec} {
		frames := dataFrames(rec.Body.String())
		require.Len(t, frames, 1, name)

		var got chat.ChatMessage
		require.NoError(t, json.Unmarshal([]byte(frames[0]), &got))
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "alice", got.SenderID())
		assert.Equal(t, "bob", got.ReceiverID())
		require.NotNil(t, got.From.Profile(), name)
		assert.Equal(t, "Alice", got.From.Profile().FullName)
	}
}

func TestSend_OfflineRecipientStillSucceeds(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "anyone?"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestSend_SelfMessageDeliveredOnce(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "alice")

	_, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "alice", Text: "note to self"})
	require.NoError(t, err)
	assert.Len(t, dataFrames(rec.Body.String()), 1)
}

func TestSend_FailedPushUnregistersOnlyThatHandle(t *testing.T) {
	f := newFixture(t)
	aliceRec := f.connect(t, "alice")

	broken, err := stream.NewHandle("bob", &brokenWriter{})
	require.NoError(t, err)
	f.registry.Register(broken)

	msg, err := f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	assert.Nil(t, f.registry.Lookup("bob"))
	assert.True(t, broken.Closed())
	assert.NotNil(t, f.registry.Lookup("alice"))
	assert.Len(t, dataFrames(aliceRec.Body.String()), 1)
}

func TestSend_ClosedHandleIsDropped(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	h, err := stream.NewHandle("bob", rec)
	require.NoError(t, err)
	f.registry.Register(h)
	h.Close()

	_, err = f.d.Send(context.Background(), SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "hi"})
	require.NoError(t, err)
	assert.Nil(t, f.registry.Lookup("bob"))
	assert.Empty(t, rec.Body.String())
}

func TestSend_NilRegistryStoresOnly(t *testing.T) {
	st := store.NewMockStore()
	d := NewDispatcher(st, &fakeUploader{}, nil, nil)

	_, err := d.Send(context.Background(), SendRequest{FromUserID: "a", ToUserID: "b", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.MessageCount())
}

func TestHistory_MarksPeerMessagesSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Send(ctx, SendRequest{FromUserID: "bob", ToUserID: "alice", Text: "ping"})
	require.NoError(t, err)
	_, err = f.d.Send(ctx, SendRequest{FromUserID: "alice", ToUserID: "bob", Text: "pong"})
	require.NoError(t, err)

	msgs, err := f.d.History(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	again, err := f.d.History(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, m := range again {
		if m.FromUserID == "bob" {
			assert.True(t, m.Seen, "bob's message to alice should be seen")
		} else {
			assert.False(t, m.Seen, "alice's own message stays unseen until bob reads")
		}
	}
}

func TestHistory_RequiresPeer(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.History(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInbox_PopulatesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.d.Send(ctx, SendRequest{FromUserID: "alice", ToUserID: "bob", Text: text})
		require.NoError(t, err)
	}

	msgs, err := f.d.Inbox(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].To)
	assert.Equal(t, "Bob", msgs[0].To.FullName)
	assert.Equal(t, "Alice", msgs[0].From.FullName)
}
