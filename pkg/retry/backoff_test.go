package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelayFixed(t *testing.T) {
	config := Config{Strategy: BackoffFixed, BaseDelay: 100 * time.Millisecond}

	// Fixed strategy always waits exactly base_delay between attempts.
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 100*time.Millisecond, computeDelay(attempt, config))
	}
}

func TestComputeDelayExponential(t *testing.T) {
	config := Config{
		Strategy:        BackoffExponential,
		BaseDelay:       100 * time.Millisecond,
		ExponentialBase: 2.0,
		MaxDelay:        1 * time.Second,
	}

	// delay(n) = min(base * base^(n-1), max_delay)
	assert.Equal(t, 100*time.Millisecond, computeDelay(1, config))
	assert.Equal(t, 200*time.Millisecond, computeDelay(2, config))
	assert.Equal(t, 400*time.Millisecond, computeDelay(3, config))
	assert.Equal(t, 800*time.Millisecond, computeDelay(4, config))
	assert.Equal(t, 1*time.Second, computeDelay(5, config))
	assert.Equal(t, 1*time.Second, computeDelay(6, config))
}

func TestComputeDelayLinear(t *testing.T) {
	config := Config{Strategy: BackoffLinear, BaseDelay: 50 * time.Millisecond}

	assert.Equal(t, 50*time.Millisecond, computeDelay(1, config))
	assert.Equal(t, 100*time.Millisecond, computeDelay(2, config))
	assert.Equal(t, 150*time.Millisecond, computeDelay(3, config))
}

func TestComputeDelayFibonacci(t *testing.T) {
	config := Config{Strategy: BackoffFibonacci, BaseDelay: 10 * time.Millisecond}

	// fib seeded 1, 1: 1 1 2 3 5 8
	expected := []time.Duration{10, 10, 20, 30, 50, 80}
	for i, want := range expected {
		assert.Equal(t, want*time.Millisecond, computeDelay(i+1, config))
	}
}

func TestFibonacci(t *testing.T) {
	expected := []int64{1, 1, 2, 3, 5, 8, 13, 21}
	for i, want := range expected {
		assert.Equal(t, want, fibonacci(i+1))
	}
}

func TestApplyJitterNone(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	config := Config{Jitter: JitterNone, JitterMax: 0.5}

	assert.Equal(t, time.Second, applyJitter(time.Second, config, rng))
}

func TestApplyJitterUniformStaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	config := Config{Jitter: JitterUniform, JitterMax: 0.5}

	for i := 0; i < 1000; i++ {
		jittered := applyJitter(time.Second, config, rng)
		assert.GreaterOrEqual(t, jittered, 500*time.Millisecond)
		assert.LessOrEqual(t, jittered, 1500*time.Millisecond)
	}
}

func TestApplyJitterDecorrelatedOnlyAdds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	config := Config{Jitter: JitterDecorrelated, JitterMax: 0.5}

	for i := 0; i < 1000; i++ {
		jittered := applyJitter(time.Second, config, rng)
		assert.GreaterOrEqual(t, jittered, time.Second)
		assert.LessOrEqual(t, jittered, 1500*time.Millisecond)
	}
}

func TestApplyJitterExponentialOnlyAdds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	config := Config{Jitter: JitterExponential, JitterMax: 0.2}

	for i := 0; i < 1000; i++ {
		jittered := applyJitter(time.Second, config, rng)
		assert.GreaterOrEqual(t, jittered, time.Second)
	}
}

func TestSetDefaultsBaseDelay(t *testing.T) {
	unset := Config{}
	unset.SetDefaults()
	assert.Equal(t, DefaultConfig().BaseDelay, unset.BaseDelay)

	// Negative means an explicit zero delay, not "use the default".
	explicit := Config{BaseDelay: -1}
	explicit.SetDefaults()
	assert.Equal(t, time.Duration(0), explicit.BaseDelay)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid defaults",
			config:      DefaultConfig(),
			expectError: false,
		},
		{
			name: "zero attempts",
			config: Config{
				MaxAttempts: 0, Strategy: BackoffFixed, Jitter: JitterNone,
			},
			expectError: true,
		},
		{
			name: "jitter_max out of range",
			config: Config{
				MaxAttempts: 1, Strategy: BackoffFixed, Jitter: JitterUniform, JitterMax: 1.5,
			},
			expectError: true,
		},
		{
			name: "max_delay below base_delay",
			config: Config{
				MaxAttempts: 1, Strategy: BackoffFixed, Jitter: JitterNone,
				BaseDelay: time.Second, MaxDelay: time.Millisecond,
			},
			expectError: true,
		},
		{
			name: "unknown strategy",
			config: Config{
				MaxAttempts: 1, Strategy: "random", Jitter: JitterNone,
			},
			expectError: true,
		},
		{
			name: "exponential base too small",
			config: Config{
				MaxAttempts: 1, Strategy: BackoffExponential, Jitter: JitterNone, ExponentialBase: 1.0,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
