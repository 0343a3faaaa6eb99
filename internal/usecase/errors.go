package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorTranscription   ErrorCode = "TRANSCRIPTION_ERROR"
	ErrorGeneration      ErrorCode = "GENERATION_ERROR"
	ErrorSynthesis       ErrorCode = "SYNTHESIS_ERROR"
	ErrorSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is the single error type surfaced by the conversation service. Code
// names the failed pipeline stage; Err carries the upstream cause.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Stage returns the pipeline stage that failed, or "" for non-stage errors.
func (e *Error) Stage() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrorTranscription:
		return stageTranscription
	case ErrorGeneration:
		return stageGeneration
	case ErrorSynthesis:
		return stageSynthesis
	}
	return ""
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
