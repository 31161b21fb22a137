// Package arenaerr defines the error taxonomy shared by every arena
// component: invalid handles, capacity exhaustion, dangling stubs,
// rejected configuration, and undersized migration buffers.
package arenaerr

import "errors"

// Kind classifies an arena error so callers can branch on it with
// errors.Is without depending on error message text.
type Kind int

const (
	// KindInvalidHandle means the id is unknown to the addressed region,
	// or the handle is the zero value.
	KindInvalidHandle Kind = iota
	// KindOutOfCapacity means no placement exists for the request given
	// the region's fit policy and any reserved safety margin.
	KindOutOfCapacity
	// KindDanglingStub means a record is a stub but its redirect target
	// is absent or unknown to its owning region.
	KindDanglingStub
	// KindInvalidConfig means a configuration value violates an invariant.
	KindInvalidConfig
	// KindBufferTooSmall means a OneWayLane scratch buffer is smaller
	// than the entry being migrated.
	KindBufferTooSmall
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHandle:
		return "invalid_handle"
	case KindOutOfCapacity:
		return "out_of_capacity"
	case KindDanglingStub:
		return "dangling_stub"
	case KindInvalidConfig:
		return "invalid_config"
	case KindBufferTooSmall:
		return "buffer_too_small"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every public arena
// operation that can fail. Op names the failing operation (e.g.
// "fastlane.allocate") for diagnostics.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel for the same Kind, so that
// errors.Is(err, arenaerr.ErrInvalidHandle) works regardless of Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons. Their Op/Err fields are ignored
// by Error.Is, only Kind is compared.
var (
	ErrInvalidHandle  = &Error{Kind: KindInvalidHandle}
	ErrOutOfCapacity  = &Error{Kind: KindOutOfCapacity}
	ErrDanglingStub   = &Error{Kind: KindDanglingStub}
	ErrInvalidConfig  = &Error{Kind: KindInvalidConfig}
	ErrBufferTooSmall = &Error{Kind: KindBufferTooSmall}
)

// New builds an *Error for op with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error for op wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// BatchError reports the outcome of a free_many call: the handles
// successfully freed before the first failure, and the failure itself.
// Earlier frees are NOT rolled back — spec section 7 requires that
// "partial batch frees are preserved."
type BatchError struct {
	Succeeded int
	Err       error
}

func (e *BatchError) Error() string {
	return e.Err.Error()
}

func (e *BatchError) Unwrap() error { return e.Err }
