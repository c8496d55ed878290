// ABOUTME: Incremental text/event-stream parser turning arbitrary byte chunks into frames
// ABOUTME: Handles partial lines across chunks, CRLF endings, comments and multi-line data

package client

import (
	"bytes"
	"strings"

	"github.com/marv1n-le/marvify/internal/stream"
)

// frameParser accumulates stream bytes and emits complete frames.
type frameParser struct {
	buf []byte

	event      string
	data       []string
	hasField   bool
	hasComment bool
}

// Feed appends a chunk and returns every frame it completed. Bytes after the
// last newline are kept for the next call.
func (p *frameParser) Feed(chunk []byte) []stream.Frame {
	p.buf = append(p.buf, chunk...)

	var frames []stream.Frame
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.buf[:i]), "\r")
		p.buf = p.buf[i+1:]

		if f, ok := p.line(line); ok {
			frames = append(frames, f)
		}
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames
}

// line processes one complete line and reports a frame when it was the
// blank line ending one.
func (p *frameParser) line(line string) (stream.Frame, bool) {
	if line == "" {
		return p.dispatch()
	}

	if strings.HasPrefix(line, ":") {
		p.hasComment = true
		return stream.Frame{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.event = value
		p.hasField = true
	case "data":
		p.data = append(p.data, value)
		p.hasField = true
	}
	// id, retry and unknown fields are ignored

	return stream.Frame{}, false
}

func (p *frameParser) dispatch() (stream.Frame, bool) {
	defer p.reset()

	if !p.hasField {
		if p.hasComment {
			return stream.HeartbeatFrame(), true
		}
		return stream.Frame{}, false
	}

	f := stream.Frame{Data: strings.Join(p.data, "\n")}
	switch p.event {
	case "", "message":
		f.Kind = stream.KindData
	default:
		f.Kind = stream.Kind(p.event)
	}
	return f, true
}

func (p *frameParser) reset() {
	p.event = ""
	p.data = nil
	p.hasField = false
	p.hasComment = false
}
