// Package errs provides structured error handling for the request plane.
//
// Grounded on the teacher's beta/errs package: the Code enum
// (runtime/beta/errs/codes.go), the Builder fluent API
// (runtime/beta/errs/builder.go) and the Error/Details shape
// (runtime/beta/errs/error.go, details.go). The active runtimes/go tree only
// retained errs_internal.go (helpers over these types); this package
// reconstructs the full type definitions from the legacy tree as the
// authoritative source, dropping the legacy errmarshalling-based gob/JSON
// type-registry trick whose sibling files were not present in the retrieved
// pack, in favor of a direct json.Marshal of the public fields.
package errs

import (
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/relaycore/rplane/appruntime/exported/stack"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// Details is a marker interface for structured, client-visible error detail
// payloads. A marker method (rather than interface{}) lets callers rely on
// static typing while still allowing the detail type to cross a process
// boundary as JSON.
type Details interface {
	ErrDetails()
}

// Metadata is internal-only key/value data attached to an error. It never
// crosses a process boundary to an external client.
type Metadata map[string]any

// Error is a structured error carrying a Code, a public Message, optional
// Details (client-visible) and Metadata (internal-only), plus an internal
// message and captured stack for observability.
type Error struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Details Details  `json:"details"`
	Meta    Metadata `json:"-"`

	// Internal is set when Message has been redacted for an Internal-class
	// code; it holds the original, non-public text.
	Internal string `json:"-"`

	underlying error
	stack      stack.Stack
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.ErrorMessage()
}

// ErrorMessage joins this error's message with any wrapped error's message.
func (e *Error) ErrorMessage() string {
	if e.underlying == nil {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	next := e.underlying
	for next != nil {
		var msg string
		if ee, ok := next.(*Error); ok {
			msg = ee.Message
			next = ee.underlying
		} else {
			msg = next.Error()
			next = nil
		}
		if b.Len() > 0 && msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.underlying }

// Convert converts an arbitrary error into *Error, defaulting to Unknown.
func Convert(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: Unknown, Message: err.Error(), underlying: err, stack: stack.Build(2)}
}

// Code reports the Code carried by err, OK if err is nil, Unknown otherwise.
func Code(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Unknown
}

func MetaOf(err error) Metadata {
	if e, ok := err.(*Error); ok {
		return e.Meta
	}
	return nil
}

func DetailsOf(err error) Details {
	if e, ok := err.(*Error); ok {
		return e.Details
	}
	return nil
}

func Stack(err error) stack.Stack {
	if e, ok := err.(*Error); ok {
		return e.stack
	}
	return stack.Stack{}
}

// HTTPStatus reports the HTTP status to use for err, per §7's canonical
// code->status mapping.
func HTTPStatus(err error) int {
	return Code(err).HTTPStatus()
}

// RoundTrip produces a copy of err suitable for replicating the error across
// a service boundary: it preserves Code, Message, Meta and the public
// Details, but drops the underlying cause (which may not be meaningfully
// reconstructible on the other side) and rebuilds the stack from this frame.
func RoundTrip(err error) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return &Error{Code: Unknown, Message: err.Error(), stack: stack.Build(3)}
	}
	e2 := &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		stack:   stack.Build(3),
	}
	if len(e.Meta) > 0 {
		e2.Meta = make(Metadata, len(e.Meta))
		for k, v := range e.Meta {
			e2.Meta[k] = v
		}
	}
	return e2
}

// HTTPError writes err to w as JSON, with status computed by HTTPStatus.
func HTTPError(w http.ResponseWriter, err error) {
	HTTPErrorWithCode(w, err, 0)
}

// HTTPErrorWithCode is like HTTPError but uses status if non-zero.
func HTTPErrorWithCode(w http.ResponseWriter, err error, status int) {
	if status == 0 {
		status = HTTPStatus(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if err == nil {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"ok","message":"","details":null}`))
		return
	}

	e := Convert(err).(*Error)
	body := struct {
		Code    Code    `json:"code"`
		Message string  `json:"message"`
		Details Details `json:"details"`
	}{e.Code, e.ErrorMessage(), e.Details}

	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		data, _ = json.Marshal(struct {
			Code    Code   `json:"code"`
			Message string `json:"message"`
		}{e.Code, e.Message})
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
