package retry

import (
	"math"
	"math/rand"
	"time"
)

// computeDelay returns the raw backoff delay for a 1-based attempt number,
// capped at MaxDelay. Jitter is applied afterwards.
func computeDelay(attempt int, config Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch config.Strategy {
	case BackoffExponential:
		// base * exponential_base^(attempt-1)
		delay = time.Duration(float64(config.BaseDelay) * math.Pow(config.ExponentialBase, float64(attempt-1)))
	case BackoffLinear:
		delay = time.Duration(int64(config.BaseDelay) * int64(attempt))
	case BackoffFixed:
		delay = config.BaseDelay
	case BackoffFibonacci:
		delay = time.Duration(int64(config.BaseDelay) * fibonacci(attempt))
	default:
		delay = config.BaseDelay
	}

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// fibonacci returns the n-th Fibonacci number seeded 1, 1.
func fibonacci(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// applyJitter perturbs a computed delay according to the configured mode.
// The exponential mode draws from Exp(rate = 1/(jitter_max*delay)), matching
// the backoff behavior agreed with the coordinator units.
func applyJitter(delay time.Duration, config Config, rng *rand.Rand) time.Duration {
	if config.Jitter == JitterNone || config.JitterMax <= 0 || delay <= 0 {
		return delay
	}

	d := float64(delay)
	var jittered float64
	switch config.Jitter {
	case JitterUniform:
		// delay +/- Uniform(0, jitter_max) * delay
		offset := rng.Float64() * config.JitterMax * d
		if rng.Intn(2) == 0 {
			jittered = d - offset
		} else {
			jittered = d + offset
		}
	case JitterExponential:
		// delay + Exp(rate = 1/(jitter_max*delay))
		jittered = d + rng.ExpFloat64()*config.JitterMax*d
	case JitterDecorrelated:
		// delay + Uniform(0, jitter_max*delay)
		jittered = d + rng.Float64()*config.JitterMax*d
	default:
		jittered = d
	}

	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
