package streamwatch

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, raw string) []SSEEvent {
	t.Helper()
	dec := NewSSEDecoder(strings.NewReader(raw))
	var events []SSEEvent
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestSSEDecoderNamedEvents(t *testing.T) {
	raw := "event: connect\ndata: {\"ok\":true}\n\n" +
		"event: log\ndata: {\"n\":1}\n\n"

	events := decodeAll(t, raw)
	require.Len(t, events, 2)
	assert.Equal(t, SSEEvent{Name: "connect", Data: `{"ok":true}`}, events[0])
	assert.Equal(t, SSEEvent{Name: "log", Data: `{"n":1}`}, events[1])
}

func TestSSEDecoderUnnamedEvent(t *testing.T) {
	events := decodeAll(t, "data: hello\n\n")
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Name)
	assert.Equal(t, "hello", events[0].Data)
}

func TestSSEDecoderNamedEventWithoutData(t *testing.T) {
	// A connection ack may arrive as a bare named event. It still
	// dispatches, with empty data.
	raw := "event: connect\n\n" +
		"event: log\ndata: {\"n\":1}\n\n"

	events := decodeAll(t, raw)
	require.Len(t, events, 2)
	assert.Equal(t, SSEEvent{Name: "connect"}, events[0])
	assert.Equal(t, SSEEvent{Name: "log", Data: `{"n":1}`}, events[1])
}

func TestSSEDecoderMultilineData(t *testing.T) {
	events := decodeAll(t, "event: log\ndata: line one\ndata: line two\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", events[0].Data)
}

func TestSSEDecoderSkipsCommentsAndUnknownFields(t *testing.T) {
	raw := ": keep-alive\n" +
		"id: 42\n" +
		"retry: 1000\n" +
		"event: log\n" +
		"data: payload\n\n"

	events := decodeAll(t, raw)
	require.Len(t, events, 1)
	assert.Equal(t, SSEEvent{Name: "log", Data: "payload"}, events[0])
}

func TestSSEDecoderCRLF(t *testing.T) {
	events := decodeAll(t, "event: log\r\ndata: payload\r\n\r\n")
	require.Len(t, events, 1)
	assert.Equal(t, SSEEvent{Name: "log", Data: "payload"}, events[0])
}

func TestSSEDecoderBlankKeepAlives(t *testing.T) {
	events := decodeAll(t, "\n\n\ndata: after\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "after", events[0].Data)
}

func TestSSEDecoderEOFFlushesPendingEvent(t *testing.T) {
	// Stream ends without a trailing blank line.
	events := decodeAll(t, "event: log\ndata: tail")
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Data)
}

func TestSSEDecoderLineLimit(t *testing.T) {
	dec := NewSSEDecoder(strings.NewReader("data: " + strings.Repeat("x", 4096) + "\n\n"))
	dec.SetMaxLineBytes(64)

	_, err := dec.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max bytes")
}
