package extract

import (
	"errors"
	"fmt"
)

// Kind classifies why an extraction failed.
type Kind int

const (
	UnsupportedFormat Kind = iota + 1
	DecodeFailure
	InsufficientContent
	Timeout
)

func (k Kind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported_format"
	case DecodeFailure:
		return "decode_failure"
	case InsufficientContent:
		return "insufficient_content"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the single failure type returned by every extractor and the
// orchestrator. Err carries the underlying library cause when there is one.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
