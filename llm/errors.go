package llm

import "errors"

// CallError classifies a failed endpoint call for the retry loop.
type CallError struct {
	// Permanent marks an error no retry can fix: bad credentials, a
	// malformed request, an unknown provider.
	Permanent bool

	cause error
}

func (e *CallError) Error() string { return e.cause.Error() }
func (e *CallError) Unwrap() error { return e.cause }

// retryable marks an error worth another attempt: a network hiccup, a rate
// limit, an upstream 5xx.
func retryable(err error) error {
	return &CallError{cause: err}
}

func permanent(err error) error {
	return &CallError{Permanent: true, cause: err}
}

// IsPermanent reports whether err should stop the retry loop. Unclassified
// errors count as permanent: only errors the client explicitly marked
// retryable earn another endpoint call.
func IsPermanent(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Permanent
	}
	return true
}
