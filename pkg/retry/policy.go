package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy configures truncated exponential backoff.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// MaxAttempts bounds the number of retries. Zero means unlimited.
	MaxAttempts int
}

// DefaultPolicy retries forever, starting at 250ms and doubling up to 8s.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  250 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   8 * time.Second,
	}
}

// Delay returns the wait before the retry following attempt n (0-indexed):
// min(BaseDelay * Multiplier^n, MaxDelay).
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Validate checks the policy invariants.
func (p Policy) Validate() []error {
	var errs []error

	if p.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry base delay must be positive, got %s", p.BaseDelay))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry multiplier must be at least 1, got %g", p.Multiplier))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, fmt.Errorf("retry max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay))
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry max attempts must not be negative, got %d", p.MaxAttempts))
	}

	return errs
}

func (p Policy) String() string {
	attempts := "unlimited"
	if p.MaxAttempts > 0 {
		attempts = fmt.Sprint(p.MaxAttempts)
	}
	return fmt.Sprintf("backoff(%s x%g max %s, attempts %s)", p.BaseDelay, p.Multiplier, p.MaxDelay, attempts)
}
