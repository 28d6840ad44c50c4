package chat_completions

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed response lifecycle.
type ErrorKind string

const (
	KindJSONDecode ErrorKind = "JSON_ERROR"
	KindUpstream   ErrorKind = "API_ERROR"
	KindModel      ErrorKind = "MODEL_ERROR"
	KindNoResponse ErrorKind = "NO_RESPONSE"
	KindStream     ErrorKind = "STREAM_ERROR"
)

// Error is returned by the single-shot reducer and the event decoder.
type Error struct {
	Kind    ErrorKind
	Message string
	// Code is the upstream error code, when Grok reported one.
	Code string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindUpstream:
		b.WriteString("grok upstream error: ")
	case KindModel:
		b.WriteString("grok model error: ")
	case KindNoResponse:
		b.WriteString("grok returned no response: ")
	case KindJSONDecode:
		b.WriteString("grok response decode error: ")
	default:
		b.WriteString("grok stream error: ")
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" (code=")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the kind onto the HTTP status returned to the client.
func (e *Error) StatusCode() int {
	if e.Kind == KindStream {
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
