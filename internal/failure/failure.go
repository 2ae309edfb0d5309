// Package failure defines the error taxonomy of a render job.
//
// Every stage wraps its errors into *Error with a Kind, so callers can tell
// "the script was malformed" apart from "we built the frames but couldn't
// save them" without parsing messages.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a job failure.
type Kind int

const (
	Unknown Kind = iota
	ConfigError
	ParseError
	TimelineError
	AssetMissing
	RenderTimeout
	RenderCorrupted
	EncodingUnavailable
	EncodingFailed
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	ConfigError:         "config_error",
	ParseError:          "parse_error",
	TimelineError:       "timeline_error",
	AssetMissing:        "asset_missing",
	RenderTimeout:       "render_timeout",
	RenderCorrupted:     "render_corrupted",
	EncodingUnavailable: "encoding_unavailable",
	EncodingFailed:      "encoding_failed",
	Cancelled:           "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error implements error so a bare Kind can be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // stage or operation, e.g. "timeline.Build"
	Message string
	Err     error
	Details map[string]string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind (either a bare Kind or an *Error).
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

// WithDetail attaches a key/value pair for diagnostics.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. An err that is already an *Error
// keeps its own Kind.
func Wrap(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
