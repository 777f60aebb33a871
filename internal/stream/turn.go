package stream

import (
	"encoding/json"
	"strings"

	"github.com/kalambet/chatembed/internal/directive"
)

// Turn accumulates the events of one model response.
type Turn struct {
	raw  strings.Builder
	call *FunctionCall
	errs []string
	done bool
}

// Apply folds ev into the turn. It reports whether the visible text may have
// changed.
func (t *Turn) Apply(ev Event) bool {
	switch ev.Kind {
	case EventText:
		t.raw.WriteString(ev.Text)
		return true
	case EventFunctionCall:
		// Only the first call of a turn is honoured.
		if t.call == nil && ev.Call != nil {
			t.call = ev.Call
		}
	case EventError:
		t.errs = append(t.errs, ev.Err)
	case EventDone:
		t.done = true
	}
	return false
}

// Raw returns the concatenated text deltas including any markers.
func (t *Turn) Raw() string { return t.raw.String() }

// Visible returns the accumulated text with complete directive markers
// removed. Safe to call after every delta.
func (t *Turn) Visible() string {
	return strings.TrimSpace(directive.Strip(t.raw.String()))
}

// Errors returns the error messages reported in-band by the endpoint.
func (t *Turn) Errors() []string { return t.errs }

// Done reports whether the sentinel was received.
func (t *Turn) Done() bool { return t.done }

// Call returns the function call to honour for this turn. A structured call
// from the stream wins; otherwise the first actionable marker embedded in
// the text is used.
func (t *Turn) Call() *FunctionCall {
	if t.call != nil {
		return t.call
	}
	_, found := directive.Extract(t.raw.String())
	for _, d := range found {
		if fc := callFromDirective(d); fc != nil {
			return fc
		}
	}
	return nil
}

func callFromDirective(d directive.Directive) *FunctionCall {
	args := d.Args()
	switch d.Name {
	case "ACTION", "TRIGGER_ACTION":
		id, _ := args["action_id"].(string)
		if id == "" {
			id, _ = args["value"].(string)
		}
		if id == "" {
			return nil
		}
		return &FunctionCall{Name: "trigger_action", Args: map[string]any{"action_id": id}}
	case "SHOW_PRODUCTS":
		if v, ok := args["value"].(string); ok && len(args) == 1 {
			args = map[string]any{"keywords": v}
		}
		return &FunctionCall{Name: "show_products", Args: args}
	case "FUNCTION_CALL":
		var fc FunctionCall
		if err := json.Unmarshal([]byte(d.Payload), &fc); err != nil || fc.Name == "" {
			return nil
		}
		return &fc
	}
	return nil
}
