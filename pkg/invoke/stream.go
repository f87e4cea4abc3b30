package invoke

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const ssePrefix = "data: "

// Stream yields response text chunks incrementally. It is a single-use,
// pull-based iterator over an open response body: call Next until it
// reports done, then check Err. Close releases the underlying body and is
// safe to call at any point, including mid-iteration abandonment.
type Stream struct {
	body io.ReadCloser

	readBuf []byte
	partial string          // held-back incomplete line
	raw     strings.Builder // accumulated body for the non-SSE fallback

	pending  []string
	produced bool // any SSE chunk was yielded
	finished bool
	err      error

	closeOnce sync.Once
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:    body,
		readBuf: make([]byte, 4096),
	}
}

// Next returns the next text chunk, or ok=false when the stream is done.
func (st *Stream) Next() (string, bool) {
	for {
		if len(st.pending) > 0 {
			chunk := st.pending[0]
			st.pending = st.pending[1:]
			return chunk, true
		}
		if st.finished {
			return "", false
		}

		n, err := st.body.Read(st.readBuf)
		if n > 0 {
			chunk := string(st.readBuf[:n])
			st.raw.WriteString(chunk)
			st.partial += chunk

			// Split on newlines, holding back the last (possibly
			// incomplete) line until more bytes arrive.
			lines := strings.Split(st.partial, "\n")
			st.partial = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if st.handleLine(line) {
					break
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				st.err = err
			}
			st.finishAtEnd()
		}
	}
}

// handleLine parses one complete line; reports true when a terminal error
// payload halts the stream.
func (st *Stream) handleLine(line string) bool {
	chunk, terminal, ok := parseSSELine(line)
	if !ok {
		return false
	}
	st.pending = append(st.pending, chunk)
	st.produced = true
	if terminal {
		st.partial = ""
		_ = st.shutdown()
	}
	return terminal
}

// finishAtEnd flushes the held-back partial line and applies the non-SSE
// fallback: frameworks that answer with one JSON document instead of a
// proper stream still yield their result once.
func (st *Stream) finishAtEnd() {
	if st.finished {
		return
	}
	if st.partial != "" {
		st.handleLine(st.partial)
		st.partial = ""
	}
	if !st.produced {
		if result, ok := extractResult(st.raw.String()); ok {
			st.pending = append(st.pending, result)
		}
	}
	_ = st.shutdown()
}

// Err returns the first read error, if any. A normal end of stream is not
// an error.
func (st *Stream) Err() error {
	return st.err
}

// Close abandons the stream and releases the response body. Chunks
// parsed but not yet delivered are discarded; Next reports done from
// then on.
func (st *Stream) Close() error {
	st.pending = nil
	return st.shutdown()
}

// shutdown ends iteration and releases the body without touching pending
// chunks, so a terminal error payload or end-of-stream fallback is still
// delivered.
func (st *Stream) shutdown() error {
	st.finished = true
	var err error
	st.closeOnce.Do(func() {
		err = st.body.Close()
	})
	return err
}

// parseSSELine interprets one response line. Lines without the SSE data
// prefix are ignored (ok=false). The data payload is JSON-parsed: a plain
// string is content; an object carrying an "error" key is a terminal
// error rendered as "Error: <message>"; anything unparseable is passed
// through as literal content.
func parseSSELine(line string) (chunk string, terminal, ok bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, ssePrefix) {
		return "", false, false
	}
	payload := line[len(ssePrefix):]

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return payload, false, true
	}
	switch val := v.(type) {
	case string:
		return val, false, true
	case map[string]any:
		if msg, found := val["error"]; found {
			return fmt.Sprintf("Error: %v", msg), true, true
		}
	}
	// Structured non-error payloads pass through verbatim.
	return payload, false, true
}

// extractResult pulls a displayable value out of a non-SSE response: the
// JSON "result" field when present, otherwise the whole payload.
func extractResult(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
		if r, found := payload["result"]; found {
			if s, ok := r.(string); ok {
				return s, true
			}
			if b, err := json.Marshal(r); err == nil {
				return string(b), true
			}
		}
	}
	return trimmed, true
}
