package reconstruction

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput means the transform log or a referenced frame is absent
	ErrMissingInput = errors.New("missing input")

	// ErrMisaligned means the transform log and the frame set differ in length
	ErrMisaligned = errors.New("frames and transforms are misaligned")

	// ErrInvalidParams means the reconstruction parameters cannot describe a run
	ErrInvalidParams = errors.New("invalid reconstruction parameters")
)

// ReconstructionError carries one of the sentinel kinds above together with
// the underlying cause, if any. All such failures abort the run.
type ReconstructionError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *ReconstructionError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ReconstructionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func missingInput(cause error, format string, args ...any) error {
	return &ReconstructionError{Kind: ErrMissingInput, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func misaligned(cause error, format string, args ...any) error {
	return &ReconstructionError{Kind: ErrMisaligned, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func invalidf(format string, args ...any) error {
	return &ReconstructionError{Kind: ErrInvalidParams, Msg: fmt.Sprintf(format, args...)}
}
