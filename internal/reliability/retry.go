package reliability

import (
	"math/rand"
	"net/http"
	"time"
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableHTTPStatus reports whether a reply with this status may succeed
// if the same request is sent again.
func IsRetryableHTTPStatus(code int) bool {
	return retryableStatus[code]
}

// Backoff is a capped exponential retry schedule. Attempt 0 waits Base, each
// later attempt doubles it up to Cap. Jitter in [0,1] shortens every delay by
// a random fraction of at most Jitter.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Jitter      float64

	rand func() float64
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt && d < b.Cap; i++ {
		d *= 2
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}
	if b.Jitter <= 0 || d <= 0 {
		return d
	}
	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	j := min(b.Jitter, 1)
	return d - time.Duration(float64(d)*j*r())
}

// Exhausted reports whether attempts failures use up the budget. A
// non-positive MaxAttempts never exhausts.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}
