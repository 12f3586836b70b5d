package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailureRatioExceeded(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(3),
		WithFailureThreshold(0.5),
		WithResetTimeout(1*time.Second),
	)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error {
			return errors.New("error")
		})
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error {
		return nil // would succeed if called
	})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_StaysClosedBelowMinSamples(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(5),
		WithFailureThreshold(0.5),
	)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StaysClosedBelowFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(4),
		WithFailureThreshold(0.5),
	)

	_ = cb.Execute(func() error { return errors.New("error") })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return nil })

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(2),
		WithFailureThreshold(0.5),
		WithResetTimeout(50*time.Millisecond),
	)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error {
			return errors.New("error")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	executed := false
	err := cb.Execute(func() error {
		executed = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReOpens(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(2),
		WithFailureThreshold(0.5),
		WithResetTimeout(50*time.Millisecond),
	)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("error") })
	}
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(func() error {
		return errors.New("still failing")
	})

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ExecuteWithFallback(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(1),
		WithFailureThreshold(0.5),
		WithResetTimeout(1*time.Second),
	)

	_ = cb.Execute(func() error { return errors.New("error") })
	require.Equal(t, StateOpen, cb.State())

	fallbackCalled := false
	result, err := cb.ExecuteWithResult(
		func() (string, error) {
			return "primary", nil
		},
		func() (string, error) {
			fallbackCalled = true
			return "fallback", nil
		},
	)

	assert.NoError(t, err)
	assert.True(t, fallbackCalled)
	assert.Equal(t, "fallback", result)
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(10),
		WithFailureThreshold(0.9),
		WithResetTimeout(1*time.Second),
	)

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var failCount atomic.Int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("error")
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(20), successCount.Load()+failCount.Load())
}

func TestCircuitBreaker_Allow_WhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("test")

	allowed := cb.Allow()

	assert.True(t, allowed)
}

func TestCircuitBreaker_Allow_WhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test",
		WithMinSamples(1),
		WithFailureThreshold(0.5),
		WithResetTimeout(1*time.Second),
	)

	_ = cb.Execute(func() error { return errors.New("error") })

	allowed := cb.Allow()

	assert.False(t, allowed)
}

func TestCircuitBreaker_RecordSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMinSamples(5), WithFailureThreshold(0.5))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.Failures())

	cb.RecordSuccess()

	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_RecordFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMinSamples(3), WithFailureThreshold(0.5))

	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestNewCircuitBreaker_DefaultValues(t *testing.T) {
	cb := NewCircuitBreaker("test-circuit")

	assert.Equal(t, "test-circuit", cb.Name())
	assert.Equal(t, 5, cb.minSamples)
	assert.Equal(t, 0.5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.window)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Name(t *testing.T) {
	cb := NewCircuitBreaker("my-service")
	assert.Equal(t, "my-service", cb.Name())
}

func TestErrCircuitOpen_Error(t *testing.T) {
	err := ErrCircuitOpen
	assert.Equal(t, "circuit breaker is open", err.Error())
}
