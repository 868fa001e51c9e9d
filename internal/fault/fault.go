// Package fault defines the error taxonomy shared by every layer of the
// redaction pipeline. Callers classify failures with errors.Is against the
// Err* sentinels or with KindOf.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindGeometryUnavailable
	KindCompilation
	KindRender
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindValidation:          "validation",
	KindGeometryUnavailable: "geometry_unavailable",
	KindCompilation:         "compilation",
	KindRender:              "render",
	KindStorage:             "storage",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by (*Error).Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrGeometryUnavailable = errors.New("geometry unavailable")
	ErrCompilation         = errors.New("compilation error")
	ErrRender              = errors.New("render failure")
	ErrStorage             = errors.New("storage error")
)

var kindSentinels = map[Kind]error{
	KindValidation:          ErrValidation,
	KindGeometryUnavailable: ErrGeometryUnavailable,
	KindCompilation:         ErrCompilation,
	KindRender:              ErrRender,
	KindStorage:             ErrStorage,
}

// NoIndex marks an Error that is not tied to a specific face entry.
const NoIndex = -1

// Error is a classified failure. Index identifies the offending face entry for
// validation errors and is NoIndex otherwise. Detail carries bounded diagnostic
// text (for example the tail of ffmpeg's stderr).
type Error struct {
	Kind   Kind
	Op     string
	Index  int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Index != NoIndex {
		msg = fmt.Sprintf("%s: face %d", msg, e.Index)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Validation builds a validation error for the face entry at index.
func Validation(op string, index int, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Index: index, Err: err}
}

// Validationf builds a validation error that is not tied to a face entry.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Index: NoIndex, Err: fmt.Errorf(format, args...)}
}

// Geometry builds a GeometryUnavailable error.
func Geometry(op string, err error) *Error {
	return &Error{Kind: KindGeometryUnavailable, Op: op, Index: NoIndex, Err: err}
}

// Compilation builds an internal compiler defect.
func Compilation(op string, err error) *Error {
	return &Error{Kind: KindCompilation, Op: op, Index: NoIndex, Err: err}
}

// Render builds a render failure carrying bounded diagnostics.
func Render(op string, detail string, err error) *Error {
	return &Error{Kind: KindRender, Op: op, Index: NoIndex, Detail: detail, Err: err}
}

// Storage builds a storage transfer failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Index: NoIndex, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// DetailOf returns the diagnostic detail of the first *Error in err's chain.
func DetailOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Detail
	}
	return ""
}
