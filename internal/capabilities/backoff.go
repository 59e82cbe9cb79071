package capabilities

import (
	"net/http"
	"strconv"
	"time"
)

// Backoff implements the activity-level exponential backoff described for
// registry and network adapters: initial=1s, coefficient=2, bounded at 3
// attempts, honoring a Retry-After header when the server sends one.
type Backoff struct {
	Initial     time.Duration
	Coefficient float64
	MaxAttempts int
}

// DefaultBackoff matches the spec's activity-retry defaults.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Coefficient: 2, MaxAttempts: 3}
}

// Delay returns the wait before attempt n (1-indexed): attempt 1 waits
// Initial, attempt 2 waits Initial*Coefficient, and so on.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Coefficient
	}
	return time.Duration(d)
}

// RetryAfter parses a Retry-After response header (seconds form; the HTTP
// date form is not used by the registries this adapter talks to) and
// falls back to the computed backoff delay when absent or malformed.
func RetryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if resp == nil {
		return fallback
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
