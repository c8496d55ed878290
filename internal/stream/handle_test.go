// ABOUTME: Tests for stream handles
// ABOUTME: Covers serialized writes, write failures, and idempotent close

package stream

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestHandle_WriteFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	h, err := NewHandle("u1", rec)
	require.NoError(t, err)

	require.NoError(t, h.Write(ConnectedFrame()))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "event: connected\ndata: Connected to SSE endpoint\n\n", rec.Body.String())
	assert.Equal(t, "u1", h.UserID())
	assert.NotEmpty(t, h.ID())
}

func TestHandle_UniqueIDs(t *testing.T) {
	a := newHandle("u1", &bytes.Buffer{}, func() error { return nil })
	b := newHandle("u1", &bytes.Buffer{}, func() error { return nil })
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestHandle_WriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	h := newHandle("u1", &buf, func() error { return nil })

	h.Close()
	h.Close() // idempotent

	err := h.Write(HeartbeatFrame())
	assert.ErrorIs(t, err, ErrHandleClosed)
	assert.Zero(t, buf.Len())
	assert.True(t, h.Closed())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestHandle_WriteError(t *testing.T) {
	h := newHandle("u1", failingWriter{}, func() error { return nil })
	err := h.Write(HeartbeatFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestHandle_FlushError(t *testing.T) {
	h := newHandle("u1", &bytes.Buffer{}, func() error { return errors.New("gone") })
	err := h.Write(HeartbeatFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flushing")
}

func TestHandle_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	h := newHandle("u1", &buf, func() error { return nil })

	payload := strings.Repeat("x", 512)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Write(Frame{Kind: KindData, Data: payload})
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 50)
	for _, f := range frames {
		assert.Equal(t, "data: "+payload, f)
	}
}

func TestHandle_ConcurrentCloseAndWrite(t *testing.T) {
	var buf bytes.Buffer
	h := newHandle("u1", &buf, func() error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = h.Write(HeartbeatFrame()) }()
		go func() { defer wg.Done(); h.Close() }()
	}
	wg.Wait()

	assert.ErrorIs(t, h.Write(HeartbeatFrame()), ErrHandleClosed)
}
