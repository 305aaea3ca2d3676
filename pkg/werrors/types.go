package werrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Chat and branch errors
	ErrCodeChatFetch    ErrorCode = "CHAT_FETCH"
	ErrCodeChatDelete   ErrorCode = "CHAT_DELETE"
	ErrCodeBranchFetch  ErrorCode = "BRANCH_FETCH"
	ErrCodeSiblingFetch ErrorCode = "SIBLING_FETCH"

	// Generation errors
	ErrCodeGenerationFailed    ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationCancelled ErrorCode = "GENERATION_CANCELLED"
	ErrCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrCodeStreamTransport     ErrorCode = "STREAM_TRANSPORT"
	ErrCodeStreamProtocol      ErrorCode = "STREAM_PROTOCOL"

	// Speech errors
	ErrCodeTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	ErrCodeTranscriptionEmpty  ErrorCode = "TRANSCRIPTION_EMPTY"
	ErrCodeSpeechUnavailable   ErrorCode = "SPEECH_UNAVAILABLE"

	// Notes and action errors
	ErrCodeNoteNotFound   ErrorCode = "NOTE_NOT_FOUND"
	ErrCodeActionNotFound ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeActionFailed   ErrorCode = "ACTION_FAILED"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Backend errors
	ErrCodeAPIRequest   ErrorCode = "API_REQUEST"
	ErrCodeAPIResponse  ErrorCode = "API_RESPONSE"
	ErrCodeBackendError ErrorCode = "BACKEND_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured Winky error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	UserMessage string
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Stack:     captureStack(2), // Skip New and caller
		Retryable: false,
	}
}

// Wrap wraps an existing error with Winky error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
		Retryable:  false,
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message surfaced in notifications.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// Notice returns the message to show the user. Falls back to the internal
// message when no user-facing one was set.
func (e *Error) Notice() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.Function))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

// captureStack captures the current call stack
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// IsCode checks if any error in the chain carries a specific error code
func IsCode(err error, code ErrorCode) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if werr, ok := e.(*Error); ok && werr.Code == code {
			return true
		}
	}
	return false
}

// CodeOf extracts the outermost error code from an error chain, or "" when
// absent
func CodeOf(err error) ErrorCode {
	var werr *Error
	if !errors.As(err, &werr) {
		return ""
	}
	return werr.Code
}

// IsRetryable checks if any error in the chain is marked retryable
func IsRetryable(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if werr, ok := e.(*Error); ok && werr.Retryable {
			return true
		}
	}
	return false
}

// NoticeOf extracts the most specific user-facing message from an error
// chain. Wrapping an error for classification does not set a user message,
// so the innermost one a caller attached wins; plain errors fall back to
// err.Error().
func NoticeOf(err error) string {
	if err == nil {
		return ""
	}
	var outermost *Error
	for e := err; e != nil; e = errors.Unwrap(e) {
		werr, ok := e.(*Error)
		if !ok {
			continue
		}
		if outermost == nil {
			outermost = werr
		}
		if werr.UserMessage != "" {
			return werr.UserMessage
		}
	}
	if outermost != nil {
		return outermost.Message
	}
	return err.Error()
}
