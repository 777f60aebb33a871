// Package stream parses the server-sent event body returned by the streaming
// inference endpoint into a sequence of typed events.
package stream

import "fmt"

// Kind identifies the variant carried by an Event.
type Kind int

const (
	EventText Kind = iota
	EventFunctionCall
	EventError
	EventDone
)

func (k Kind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventFunctionCall:
		return "function_call"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FunctionCall is a control directive emitted by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Event is one normalized stream event. Exactly one of Text, Call or Err is
// meaningful, selected by Kind.
type Event struct {
	Kind Kind
	Text string
	Call *FunctionCall
	Err  string
}

// ParseError describes a data line that could not be decoded. It is logged
// and the line skipped; it never terminates a stream.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed stream line %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError wraps a failure reading the response body mid-stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "stream transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
