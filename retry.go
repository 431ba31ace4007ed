package poolx

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/seasbee/go-logx"
)

// Production constants
const (
	MaxAttemptsLimitRetry      = 100
	MinAttemptsLimitRetry      = 1
	MaxInitialDelayLimitRetry  = 1 * time.Minute
	MinInitialDelayLimitRetry  = 1 * time.Millisecond
	MaxDelayLimitRetry         = 10 * time.Minute
	MinDelayLimitRetry         = 1 * time.Millisecond
	MaxMultiplierLimitRetry    = 10.0
	MinMultiplierLimitRetry    = 1.0
	MaxJitterPercentLimitRetry = 50.0
	DefaultJitterPercentRetry  = 10.0
)

// Policy defines backoff behavior for re-attempting rejected submissions.
// Rejection is the pool's backpressure signal; the policy is the caller's
// answer to it.
type Policy struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	Multiplier    float64       `json:"multiplier"`
	Jitter        bool          `json:"jitter"`
	JitterPercent float64       `json:"jitter_percent"`
}

// DefaultPolicy returns a sensible default submission retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		JitterPercent: DefaultJitterPercentRetry,
	}
}

// AggressivePolicy returns a policy for submissions that must get through.
func AggressivePolicy() Policy {
	return Policy{
		MaxAttempts:   10,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    1.5,
		Jitter:        true,
		JitterPercent: DefaultJitterPercentRetry,
	}
}

// ConservativePolicy returns a policy for non-critical submissions.
func ConservativePolicy() Policy {
	return Policy{
		MaxAttempts:   2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		JitterPercent: DefaultJitterPercentRetry,
	}
}

func validatePolicy(policy Policy) error {
	if policy.MaxAttempts < MinAttemptsLimitRetry || policy.MaxAttempts > MaxAttemptsLimitRetry {
		return fmt.Errorf("%w: max attempts must be between %d and %d, got %d",
			ErrInvalidPolicy, MinAttemptsLimitRetry, MaxAttemptsLimitRetry, policy.MaxAttempts)
	}
	if policy.InitialDelay < MinInitialDelayLimitRetry || policy.InitialDelay > MaxInitialDelayLimitRetry {
		return fmt.Errorf("%w: initial delay must be between %v and %v, got %v",
			ErrInvalidPolicy, MinInitialDelayLimitRetry, MaxInitialDelayLimitRetry, policy.InitialDelay)
	}
	if policy.MaxDelay < MinDelayLimitRetry || policy.MaxDelay > MaxDelayLimitRetry {
		return fmt.Errorf("%w: max delay must be between %v and %v, got %v",
			ErrInvalidPolicy, MinDelayLimitRetry, MaxDelayLimitRetry, policy.MaxDelay)
	}
	if policy.Multiplier < MinMultiplierLimitRetry || policy.Multiplier > MaxMultiplierLimitRetry {
		return fmt.Errorf("%w: multiplier must be between %v and %v, got %v",
			ErrInvalidPolicy, MinMultiplierLimitRetry, MaxMultiplierLimitRetry, policy.Multiplier)
	}
	if policy.JitterPercent < 0 || policy.JitterPercent > MaxJitterPercentLimitRetry {
		return fmt.Errorf("%w: jitter percent must be between 0 and %v, got %v",
			ErrInvalidPolicy, MaxJitterPercentLimitRetry, policy.JitterPercent)
	}
	return nil
}

// backoffDelay computes the exponential delay for the given attempt (1-based),
// capped at MaxDelay, with optional jitter.
func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		jitter := delay * policy.JitterPercent / 100.0
		delay += (rand.Float64()*2 - 1) * jitter
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// SubmitWithRetry re-attempts a rejected submission with exponential
// backoff. Returns false once the policy's attempts are exhausted or the
// pool stops running.
func (m *Manager) SubmitWithRetry(task Task, priority Priority, policy Policy) bool {
	if err := validatePolicy(policy); err != nil {
		logx.Warn("invalid retry policy, using default", logx.ErrorField(err))
		policy = DefaultPolicy()
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if m.SubmitTask(task, priority) {
			return true
		}
		if !m.IsRunning() || attempt == policy.MaxAttempts {
			break
		}
		delay := backoffDelay(policy, attempt)
		logx.Info("submission rejected, backing off",
			logx.String("task_id", task.ID),
			logx.String("kind", task.Kind),
			logx.Int("attempt", attempt),
			logx.String("delay", delay.String()))
		time.Sleep(delay)
	}
	return false
}
