// internal/vision/errors.go
package vision

import (
	"errors"
	"fmt"
)

// TransportError covers failures reaching the inference endpoint or an
// unusable HTTP status. A zero StatusCode means the request never produced
// a response.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vision transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError covers responses that arrived but could not be converted into a
// valid Action. Raw keeps the offending payload for the corrective retry.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vision parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsParse extracts a ParseError from err, or returns nil.
func AsParse(err error) *ParseError {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
