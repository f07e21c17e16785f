package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeIO indicates a filesystem read, write, create or delete failure
	ErrorTypeIO ErrorType = "IO"
	// ErrorTypeCorruptLog indicates a segment frame that fails to decode
	ErrorTypeCorruptLog ErrorType = "CORRUPT_LOG"
	// ErrorTypeKeyNotFound indicates a remove of a key that is not in the index
	ErrorTypeKeyNotFound ErrorType = "KEY_NOT_FOUND"
	// ErrorTypeCorruptIndex indicates the index points at a non-Set command or a missing location
	ErrorTypeCorruptIndex ErrorType = "CORRUPT_INDEX"
	// ErrorTypeNotFound indicates the requested segment does not exist
	ErrorTypeNotFound ErrorType = "NOT_FOUND"
	// ErrorTypeInvalidInput indicates invalid input parameters
	ErrorTypeInvalidInput ErrorType = "INVALID_INPUT"
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// KVError represents a custom error with additional context
type KVError struct {
	Type    ErrorType
	Message string
	Err     error
	Stack   string
}

// Error implements the error interface
func (e *KVError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *KVError) Unwrap() error {
	return e.Err
}

// New creates a new KVError
func New(errType ErrorType, message string, err error) *KVError {
	_, file, line, _ := runtime.Caller(1)
	stack := fmt.Sprintf("%s:%d", file, line)

	return &KVError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

// TypeOf returns the type of the outermost KVError in err's chain, or "" if there is none.
func TypeOf(err error) ErrorType {
	var kvErr *KVError
	if stderrors.As(err, &kvErr) {
		return kvErr.Type
	}
	return ""
}

func isType(err error, errType ErrorType) bool {
	for err != nil {
		var kvErr *KVError
		if !stderrors.As(err, &kvErr) {
			return false
		}
		if kvErr.Type == errType {
			return true
		}
		err = kvErr.Err
	}
	return false
}

// IsIO checks if the error is a filesystem error
func IsIO(err error) bool {
	return isType(err, ErrorTypeIO)
}

// IsCorruptLog checks if the error is a log corruption error
func IsCorruptLog(err error) bool {
	return isType(err, ErrorTypeCorruptLog)
}

// IsKeyNotFound checks if the error is a key not found error
func IsKeyNotFound(err error) bool {
	return isType(err, ErrorTypeKeyNotFound)
}

// IsCorruptIndex checks if the error is an index consistency error
func IsCorruptIndex(err error) bool {
	return isType(err, ErrorTypeCorruptIndex)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return isType(err, ErrorTypeInvalidInput)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// RecoverError recovers from a panic and converts it to a KVError
func RecoverError(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("%s", v)
	default:
		err = fmt.Errorf("%v", v)
	}

	return New(ErrorTypeInternal, "recovered from panic", err)
}
