package ghes

import (
	"errors"
	"fmt"
	"strings"
)

// FetchError is the terminal failure of a Host API operation, surfaced after
// all retries are spent or on the first non-retryable status.
type FetchError struct {
	Reason     string
	Endpoint   string
	StatusCode int // 0 for transport-level failures
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s after %d attempts: %s", e.Reason, e.Attempts, e.Endpoint)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Endpoint)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a fetch failure that will never succeed
// on retry: 404 (gone), 403 that is not rate limiting, 422 (bad request).
// Rate-limit exhaustion is never permanent.
func IsPermanent(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if strings.Contains(strings.ToLower(fe.Reason), "rate limit") {
		return false
	}
	switch fe.StatusCode {
	case 404, 403, 422:
		return true
	}
	return false
}
