package widget

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/chatembed/internal/conversation"
	"github.com/kalambet/chatembed/internal/model"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+\-() ]+$`)
)

// ResolutionFailedText is the form message shown when a conversation could
// not be started for a submitted lead.
const ResolutionFailedText = "We couldn't start your conversation. Please try again."

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// ValidationError holds field-level messages for the lead form, keyed by
// field name ("email", "phone", or "form" for errors not tied to a field).
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid contact details: " + strings.Join(parts, "; ")
}

// ValidateContact checks the lead form. At least one of email and phone is
// required and each given value must be well formed.
func ValidateContact(email, phone string) (model.Identity, error) {
	id := model.Identity{
		Email: strings.TrimSpace(email),
		Phone: strings.TrimSpace(phone),
	}
	fields := map[string]string{}

	if id.IsZero() {
		fields["form"] = "Please enter an email address or a phone number."
		return id, &ValidationError{Fields: fields}
	}
	if id.Email != "" && !emailPattern.MatchString(id.Email) {
		fields["email"] = "Please enter a valid email address."
	}
	if id.Phone != "" && !validPhone(id.Phone) {
		fields["phone"] = "Please enter a valid phone number."
	}
	if len(fields) > 0 {
		return id, &ValidationError{Fields: fields}
	}
	return id, nil
}

func validPhone(p string) bool {
	if !phonePattern.MatchString(p) {
		return false
	}
	n := 0
	for _, r := range p {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n >= minPhoneDigits && n <= maxPhoneDigits
}

// FormErrors returns the lead form messages for an error returned by
// SubmitContact, keyed like ValidationError.Fields. It reports false for
// errors the form does not display.
func FormErrors(err error) (map[string]string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields, true
	}
	var rerr *conversation.ResolutionError
	if errors.As(err, &rerr) {
		return map[string]string{"form": ResolutionFailedText}, true
	}
	return nil, false
}
