package cms

import (
	"fmt"
	"net/http"
)

// TransientFetchError reports a network failure or a retryable status
// (429, 500, 502, 503, 504) that persisted through every attempt.
type TransientFetchError struct {
	StatusCode int // 0 for network errors
	Attempts   int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("CMS data API returned HTTP %d after %d attempts", e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("CMS data API unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError reports a non-2xx status that is not worth retrying.
type PermanentFetchError struct {
	StatusCode int
	Body       string
}

func (e *PermanentFetchError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("CMS data API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("CMS data API returned HTTP %d: %s", e.StatusCode, e.Body)
}

// DecodeError reports a response body that is not a JSON array of row objects.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decoding CMS response: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
