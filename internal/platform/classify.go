package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/podworks/podworks/internal/domain"
)

// drain reads the remainder of a response body so the underlying
// connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// classifyHTTP maps a non-2xx response onto the shared error taxonomy.
// The body is consumed for the error message, capped to keep log lines sane.
func classifyHTTP(dep string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s: %s: %s", dep, resp.Status, string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewAuthError(dep, err)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewRateLimitError(dep, retryAfter(resp), err)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.NewValidationError(dep, err)
	default:
		return domain.NewTransientError(dep, err)
	}
}

// classifyTransport maps client-side failures (DNS, refused connections,
// context deadlines) onto the taxonomy.
func classifyTransport(dep string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError(dep, err)
	}
	return domain.NewTransientError(dep, err)
}

// retryAfter parses a Retry-After header, accepting both delta-seconds
// and HTTP dates. Returns 0 when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
