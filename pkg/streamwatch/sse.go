// Package streamwatch implements the live producer for the pipeline
// monitoring model: a reconnecting SSE client that normalizes backend
// telemetry events into the shared event model of pkg/pipeline.
package streamwatch

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineBytes bounds a single SSE line. Events larger than
// this indicate a broken peer, not a big payload.
const DefaultMaxLineBytes = 1 << 20

// SSEEvent is one decoded server-sent event.
type SSEEvent struct {
	// Name is the event type from the "event:" field; empty for
	// unnamed (generic) events.
	Name string

	// Data is the concatenated "data:" payload.
	Data string
}

// SSEDecoder reads server-sent events from a persistent response
// body. Only the event and data fields matter to this client; comment
// lines and other fields (id, retry) are skipped.
type SSEDecoder struct {
	r            *bufio.Reader
	maxLineBytes int
}

// NewSSEDecoder wraps r in an SSE event reader.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides the per-line size bound. Values <= 0
// restore the default.
func (d *SSEDecoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Next returns the next complete event, or io.EOF when the stream
// ends. An event is complete at the first blank line following at
// least one event or data field, so a named event with no data still
// dispatches.
func (d *SSEDecoder) Next() (SSEEvent, error) {
	var ev SSEEvent
	haveData := false

	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if err != nil {
			if errors.Is(err, io.EOF) && (haveData || ev.Name != "") {
				return ev, nil
			}
			return SSEEvent{}, err
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			if haveData || ev.Name != "" {
				return ev, nil
			}
			// Blank line with no pending event: keep-alive, skip.
			ev = SSEEvent{}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Name = value
		case "data":
			if haveData {
				ev.Data += "\n"
			}
			ev.Data += value
			haveData = true
		}
	}
}

// splitField splits "field: value", trimming the single optional
// space after the colon per the SSE grammar.
func splitField(line []byte) (field, value string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	v := line[idx+1:]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return string(line[:idx]), string(v)
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			return nil, errors.New("sse line exceeds max bytes")
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}
