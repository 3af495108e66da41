// Package sse reads and writes Server-Sent Events streams.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched SSE event. Comment-only blocks (keep-alives) are
// never returned.
type Event struct {
	Name string
	ID   string
	Data string
}

// Reader reads events from a text/event-stream body.
type Reader struct {
	scanner *bufio.Scanner
	err     error
}

// NewReader creates a reader over r. Lines up to 1 MiB are accepted.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next event. It returns io.EOF when the stream closes
// cleanly; a trailing event without a blank line is still delivered.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if hasData {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
