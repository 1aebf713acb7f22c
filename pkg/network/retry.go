package network

import (
	"log"
	"sync"
	"time"
)

// Retry defaults: 6 send attempts with 500ms between them, a worst
// case of 2.5s occupying the caller before escalation.
const (
	DefaultRetryAttempts = 6
	DefaultRetryInterval = 500 * time.Millisecond
)

// RetryPolicy drives the at-least-once send loop. Attempts and
// Interval are plain fields so tests can shrink them.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetryPolicy returns the protocol's production cadence.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Interval: DefaultRetryInterval}
}

// AckFlag is the shared acknowledgment flag between a retry loop and
// the inbound dispatcher. The dispatcher is the only writer of the
// acknowledged state.
type AckFlag struct {
	mu    sync.Mutex
	acked bool
}

// Reset arms the flag for a new pending request.
func (f *AckFlag) Reset() {
	f.mu.Lock()
	f.acked = false
	f.mu.Unlock()
}

// Set marks the pending request acknowledged.
func (f *AckFlag) Set() {
	f.mu.Lock()
	f.acked = true
	f.mu.Unlock()
}

// Acked reports whether the acknowledgment arrived.
func (f *AckFlag) Acked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

// Run performs the blocking retry loop: arm the flag, then send up to
// p.Attempts times with p.Interval between attempts, stopping early
// when the flag is set. The flag is checked only between attempts; a
// mid-sleep ack is observed at the next boundary. When the budget is
// exhausted without an ack, escalate is invoked exactly once.
//
// A non-nil error from send is a transport failure and is returned
// immediately without escalation.
func (p RetryPolicy) Run(send func() error, flag *AckFlag, escalate func()) error {
	flag.Reset()
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := send(); err != nil {
			return err
		}
		if attempt < p.Attempts {
			time.Sleep(p.Interval)
			if flag.Acked() {
				return nil
			}
		}
	}
	if flag.Acked() {
		return nil
	}
	log.Printf("⚠️  No ack after %d attempts, escalating", p.Attempts)
	escalate()
	return nil
}
