package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/genai"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// Parser splits a byte stream into SSE lines and decodes each data line into
// events. Partial lines are buffered as raw bytes between Feed calls, so a
// multi-byte character split across chunks is reassembled intact.
type Parser struct {
	buf    []byte
	done   bool
	logger *slog.Logger
}

// NewParser creates a Parser that logs malformed lines to slog.Default().
func NewParser() *Parser {
	return &Parser{logger: slog.Default()}
}

// Done reports whether the [DONE] sentinel has been seen.
func (p *Parser) Done() bool { return p.done }

// Feed consumes the next chunk and returns the events of every line completed
// by it. After the sentinel, further input is ignored.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	for !p.done {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		events = append(events, p.line(line)...)
		p.buf = p.buf[i+1:]
	}
	if p.done {
		p.buf = nil
	} else if len(p.buf) > 0 {
		// Compact so the backing array does not grow with the stream.
		p.buf = append([]byte(nil), p.buf...)
	}
	return events
}

// Flush treats any buffered partial line as complete. It is called once the
// body reaches EOF without a trailing newline.
func (p *Parser) Flush() []Event {
	if p.done || len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil
	return p.line(line)
}

func (p *Parser) line(raw []byte) []Event {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if !bytes.HasPrefix(raw, []byte(dataPrefix)) {
		// Blank separators, comments and event:/id: fields carry nothing.
		return nil
	}
	data := bytes.TrimSpace(raw[len(dataPrefix):])
	if len(data) == 0 {
		return nil
	}
	if string(data) == doneSentinel {
		p.done = true
		return []Event{{Kind: EventDone}}
	}

	events, err := decodePayload(data)
	if err != nil {
		perr := &ParseError{Line: string(data), Err: err}
		p.logger.Warn("skipping stream line", "error", perr)
		return nil
	}
	return events
}

// payload covers the flat shapes; nested candidates are decoded separately
// with the genai response types.
type payload struct {
	Text          *string           `json:"text"`
	FunctionCalls []FunctionCall    `json:"functionCalls"`
	Candidates    []json.RawMessage `json:"candidates"`
	Error         json.RawMessage   `json:"error"`
}

func decodePayload(data []byte) ([]Event, error) {
	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, err
	}

	var events []Event
	if len(pl.Error) > 0 && string(pl.Error) != "null" {
		events = append(events, Event{Kind: EventError, Err: errorMessage(pl.Error)})
	}
	if pl.Text != nil && *pl.Text != "" {
		events = append(events, Event{Kind: EventText, Text: *pl.Text})
	}
	for _, fc := range pl.FunctionCalls {
		if fc.Name == "" {
			continue
		}
		call := fc
		events = append(events, Event{Kind: EventFunctionCall, Call: &call})
	}
	if len(pl.Candidates) > 0 {
		nested, err := decodeCandidates(data)
		if err != nil {
			return nil, err
		}
		events = append(events, nested...)
	}
	return events, nil
}

func decodeCandidates(data []byte) ([]Event, error) {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding candidates: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil, nil
	}

	var events []Event
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil:
		case part.FunctionCall != nil && part.FunctionCall.Name != "":
			events = append(events, Event{Kind: EventFunctionCall, Call: &FunctionCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}})
		case part.Text != "" && !part.Thought:
			events = append(events, Event{Kind: EventText, Text: part.Text})
		}
	}
	return events, nil
}

func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// Parse reads body until EOF, the [DONE] sentinel or ctx cancellation, and
// calls fn for every event in order. A read failure is returned as a
// *TransportError; an error from fn stops parsing and is returned as-is.
func Parse(ctx context.Context, body io.Reader, fn func(Event) error) error {
	p := NewParser()
	chunk := make([]byte, readSize)

	emit := func(events []Event) error {
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return &TransportError{Err: err}
		}
		n, err := body.Read(chunk)
		if n > 0 {
			if ferr := emit(p.Feed(chunk[:n])); ferr != nil {
				return ferr
			}
			if p.Done() {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return emit(p.Flush())
		}
		if err != nil {
			return &TransportError{Err: err}
		}
	}
}
