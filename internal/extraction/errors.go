package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrThrottled is returned by backends when the provider asks us to slow down
	ErrThrottled = errors.New("backend throttled the request")
	// ErrUnavailable is returned by backends when the provider is temporarily down
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMalformedResponse is returned when the provider output does not decode.
	// Model output is not deterministic so it is worth another attempt.
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrRejected is returned when the provider definitively refuses the input
	ErrRejected = errors.New("backend rejected the input")
)

// BackendError reports a page the backend could not process
type BackendError struct {
	// Page is the page index, -1 for whole-document requests
	Page      int
	Attempts  int
	Retryable bool
	Err       error
}

func (e *BackendError) Error() string {
	kind := "non-retryable"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("extracting page %d failed after %d attempt(s) (%s): %v", e.Page, e.Attempts, kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies a backend failure. Per-call deadlines, throttling,
// unavailability and malformed output are transient; everything else,
// including errors we do not recognise, is treated as a rejection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrMalformedResponse) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		}
	}
	return false
}

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
