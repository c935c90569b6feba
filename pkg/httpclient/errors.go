package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError is returned when retries were exhausted. Callers can inspect
// the last status code and the suggested wait before trying again.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryExhausted reports whether err is a RetryableError.
func IsRetryExhausted(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
