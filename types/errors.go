package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds for upload failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrFilesystem indicates the workspace could not be created.
	ErrFilesystem = errors.New("filesystem error")

	// ErrUploadParse indicates a malformed or interrupted multipart body.
	ErrUploadParse = errors.New("upload parse error")

	// ErrPublish indicates the content-addressing daemon reported a failure.
	ErrPublish = errors.New("publish error")
)

// UnknownErrorMessage is shown when a failure carries no specific message.
const UnknownErrorMessage = "Unknown Error"

// Error wraps an underlying error with an upload failure kind.
// Message is the client-visible text; Err is kept for logs and errors.As.
type Error struct {
	// Kind is the sentinel for classification (e.g. ErrPublish).
	Kind error
	// Op is the operation that failed (e.g. "allocate", "parse", "publish").
	Op string
	// Message is the text surfaced to the client.
	Message string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewFilesystemError creates a filesystem-kind error.
func NewFilesystemError(op string, err error) *Error {
	return &Error{Kind: ErrFilesystem, Op: op, Message: "failed to prepare upload directory", Err: err}
}

// NewUploadParseError creates a parse-kind error whose message is the cause.
func NewUploadParseError(err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: ErrUploadParse, Op: "parse", Message: msg, Err: err}
}

// NewPublishError creates a publish-kind error carrying captured stderr text.
func NewPublishError(stderr string, err error) *Error {
	return &Error{Kind: ErrPublish, Op: "publish", Message: strings.TrimSpace(stderr), Err: err}
}

// UserMessage returns the client-visible message for err.
func UserMessage(err error) string {
	if err == nil {
		return UnknownErrorMessage
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return UnknownErrorMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return UnknownErrorMessage
}
