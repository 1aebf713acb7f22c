package network

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{Attempts: 6, Interval: 10 * time.Millisecond}
	var flag AckFlag

	var sends, escalations atomic.Int32
	start := time.Now()
	err := policy.Run(
		func() error { sends.Add(1); return nil },
		&flag,
		func() { escalations.Add(1) },
	)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(6), sends.Load(), "exactly 6 send attempts")
	assert.Equal(t, int32(1), escalations.Load(), "escalation invoked exactly once")
	// 5 inter-attempt delays, no delay after the final attempt.
	assert.GreaterOrEqual(t, elapsed, 5*policy.Interval)
	assert.Less(t, elapsed, 6*policy.Interval)
}

func TestRetryStopsOnAck(t *testing.T) {
	policy := RetryPolicy{Attempts: 6, Interval: 10 * time.Millisecond}
	var flag AckFlag

	var sends, escalations atomic.Int32
	err := policy.Run(
		func() error {
			if sends.Add(1) == 2 {
				// Ack arrives while the second attempt is in flight;
				// the loop observes it at the next boundary check.
				flag.Set()
			}
			return nil
		},
		&flag,
		func() { escalations.Add(1) },
	)

	require.NoError(t, err)
	assert.Equal(t, int32(2), sends.Load())
	assert.Zero(t, escalations.Load())
}

func TestRetryAckOnFinalAttempt(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Interval: 5 * time.Millisecond}
	var flag AckFlag

	var sends, escalations atomic.Int32
	err := policy.Run(
		func() error {
			if sends.Add(1) == 3 {
				flag.Set()
			}
			return nil
		},
		&flag,
		func() { escalations.Add(1) },
	)

	require.NoError(t, err)
	assert.Equal(t, int32(3), sends.Load())
	assert.Zero(t, escalations.Load(), "an ack on the final attempt must not escalate")
}

func TestRetryPropagatesSendError(t *testing.T) {
	policy := RetryPolicy{Attempts: 6, Interval: time.Millisecond}
	var flag AckFlag
	sendErr := errors.New("socket gone")

	var escalations atomic.Int32
	err := policy.Run(
		func() error { return sendErr },
		&flag,
		func() { escalations.Add(1) },
	)

	assert.ErrorIs(t, err, sendErr)
	assert.Zero(t, escalations.Load(), "transport failure is not an ack timeout")
}

func TestRetryResetsStaleAck(t *testing.T) {
	policy := RetryPolicy{Attempts: 2, Interval: time.Millisecond}
	var flag AckFlag
	flag.Set() // stale ack from a previous request

	var sends, escalations atomic.Int32
	err := policy.Run(
		func() error { sends.Add(1); return nil },
		&flag,
		func() { escalations.Add(1) },
	)

	require.NoError(t, err)
	assert.Equal(t, int32(2), sends.Load(), "Run must arm the flag before the first send")
	assert.Equal(t, int32(1), escalations.Load())
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, 6, policy.Attempts)
	assert.Equal(t, 500*time.Millisecond, policy.Interval)
}
