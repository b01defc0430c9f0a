package codec

import (
	"errors"
)

// CodecError is returned when stored bytes cannot be decoded as an entry,
// either because they are malformed or because the payload schema does not match
type CodecError struct {
	err error
}

// NewCodecError creates a CodecError wrapping the given error
func NewCodecError(err error) *CodecError {
	return &CodecError{
		err: err,
	}
}

// Error returns error message
func (err *CodecError) Error() string {
	return "codec error: " + err.err.Error()
}

// Unwrap returns the wrapped error
func (err *CodecError) Unwrap() error {
	return err.err
}

// IsCodecError checks if the given error is a CodecError
func IsCodecError(err error) bool {
	var codecErr *CodecError
	return errors.As(err, &codecErr)
}
