package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"funding-arb/internal/venue"
)

// APIError is a non-success response from a venue. Message is taken from the
// first known field present in the body, or the raw body when none matches.
type APIError struct {
	Venue      venue.Venue
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: http %d", e.Venue, e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, ": code %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var messagePaths = []string{"msg", "message", "error.message", "error", "response", "detail"}

// NewAPIError builds an APIError from a response body of unknown shape.
func NewAPIError(v venue.Venue, status int, body []byte) *APIError {
	e := &APIError{Venue: v, StatusCode: status, Body: string(body)}
	if gjson.ValidBytes(body) {
		if c := gjson.GetBytes(body, "code"); c.Exists() {
			e.Code = c.String()
		}
		for _, p := range messagePaths {
			r := gjson.GetBytes(body, p)
			if r.Exists() && r.Type == gjson.String && r.String() != "" {
				e.Message = r.String()
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > 512 {
			e.Message = e.Message[:512]
		}
	}
	return e
}

// IsTransient reports whether err is worth retrying for a read.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return !errors.Is(err, ErrNoCredentials) && !errors.Is(err, ErrUnknownSymbol)
}
