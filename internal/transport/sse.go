package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const maxLineSize = 64 * 1024

// NewScanner returns a bufio.Scanner configured for reading SSE/NDJSON
// lines with a 64KB buffer.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// ParseSSELine parses one SSE line into its event type and data
// payload. Returns ok=false for blank lines and comments.
func ParseSSELine(line string) (event, data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	value = strings.TrimPrefix(value, " ")
	switch key {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	default:
		return "", "", false
	}
}

// Chunk is one unit of streamed text extracted from a provider's SSE
// or NDJSON stream.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// textFieldPaths are tried in order to extract the first available
// text field from a streamed JSON payload, per spec §4.5.
var textFieldPaths = []string{"response", "choices.0.delta.content"}

// ExtractText returns the first string-valued field found in data
// using textFieldPaths (an empty string still counts and ends the
// search), then streamResponsePath if provided (the resolved
// stream_response template's own extraction path).
func ExtractText(data []byte, streamResponsePath string) string {
	for _, p := range textFieldPaths {
		if v := gjson.GetBytes(data, p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	if streamResponsePath != "" {
		if v := gjson.GetBytes(data, streamResponsePath); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// ReadStream reads SSE lines (or NDJSON, one object per line) from r,
// extracting text via ExtractText and writing chunks to ch. onConnect,
// if non-nil, fires exactly once before the first chunk is sent. The
// channel is closed when the stream ends.
func ReadStream(ctx context.Context, r io.Reader, streamResponsePath string, onConnect func(), ch chan<- Chunk) {
	defer close(ch)

	fired := false
	fireOnce := func() {
		if !fired {
			fired = true
			if onConnect != nil {
				onConnect()
			}
		}
	}

	scanner := NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		var data string
		if strings.HasPrefix(line, "data:") || strings.HasPrefix(line, "event:") {
			_, d, ok := ParseSSELine(line)
			if !ok {
				continue
			}
			data = d
		} else if strings.TrimSpace(line) != "" && json.Valid([]byte(line)) {
			// NDJSON: a raw JSON object per line, no "data: " prefix.
			data = line
		} else {
			continue
		}

		if data == "[DONE]" {
			fireOnce()
			select {
			case ch <- Chunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		fireOnce()
		text := ExtractText([]byte(data), streamResponsePath)
		select {
		case ch <- Chunk{Text: text}:
		case <-ctx.Done():
			ch <- Chunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fireOnce()
		ch <- Chunk{Err: err}
	}
}
