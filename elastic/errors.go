package elastic

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindEncoding
	KindDecoding
	KindConnection
	KindNetwork
	KindTimeout
	KindCancelled
	KindNotFound
	KindConflict
	KindCluster
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEncoding:
		return "encoding"
	case KindDecoding:
		return "decoding"
	case KindConnection:
		return "connection"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// Error is returned by every package of this module. Op, Index and ID carry
// the operation context; Status and Reason are set when the cluster answered.
type Error struct {
	Kind   Kind
	Op     string
	Index  string
	ID     string
	Status int
	Reason string
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrEncoding   = &Error{Kind: KindEncoding}
	ErrDecoding   = &Error{Kind: KindDecoding}
	ErrConnection = &Error{Kind: KindConnection}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrCancelled  = &Error{Kind: KindCancelled}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrCluster    = &Error{Kind: KindCluster}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Index != "" {
		fmt.Fprintf(&b, " [index=%s", e.Index)
		if e.ID != "" {
			fmt.Fprintf(&b, " id=%s", e.ID)
		}
		b.WriteString("]")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Index == "" && t.ID == ""
}

// NewError builds an *Error of the given kind wrapping err.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted reason.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTransient reports whether err may succeed when tried again.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}
