// Package kind classifies engine errors into the taxonomy described in
// spec §7, independent of which package raised them. The query
// executor uses Of to decide how an error surfaces (a DDL {ok,err} row
// vs. a terminal row-stream error) without string-sniffing messages.
package kind

import "errors"

// Kind is one of the error categories from the error-handling design.
type Kind int

const (
	Unknown Kind = iota
	ReadData
	WriteData
	Schema
	Planning
	Concurrency
	IO
)

func (k Kind) String() string {
	switch k {
	case ReadData:
		return "read_data"
	case WriteData:
		return "write_data"
	case Schema:
		return "schema"
	case Planning:
		return "planning"
	case Concurrency:
		return "concurrency"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error pairs an underlying error with its Kind.
type Error struct {
	K   Kind
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with a Kind. Wrap(nil, ...) returns nil.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{K: k, Err: err}
}

// Of reports the Kind attached to err via Wrap, or Unknown if none.
func Of(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.K
	}
	return Unknown
}
