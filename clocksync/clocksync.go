// Package clocksync implements the Clock Supervisor: a GPS-holdover
// watchdog that alternates launching and collecting a sensor check on
// a 10-second half interval and raises a fatal error once the
// accumulated time without a fix exceeds a configured holdover
// budget. The ticker-driven check/collect alternation runs a
// time.Ticker loop launching a short-lived check and folding its
// result into accumulated state.
package clocksync

import (
	"context"
	"fmt"
	"time"
)

// SensorFunc reports whether the monitored clock currently has a fix
// (e.g. gps_timelock/gps_locked on the transmit device).
type SensorFunc func() (bool, error)

// HalfInterval is the check/collect alternation period.
const HalfInterval = 10 * time.Second

// Supervisor watches SensorFunc and calls OnFatal once accumulated
// holdover time exceeds MaxHoldover.
type Supervisor struct {
	Sensor       SensorFunc
	MaxHoldover  time.Duration
	HalfInterval time.Duration

	// OnFatal is called exactly once, the first time the holdover
	// budget is exceeded. If nil, Run returns the error instead.
	OnFatal func(error)

	numChecksWithoutFix int
}

// New builds a Supervisor. A zero maxHoldover disables the watchdog
// (Run returns immediately).
func New(sensor SensorFunc, maxHoldover time.Duration) *Supervisor {
	return &Supervisor{
		Sensor:       sensor,
		MaxHoldover:  maxHoldover,
		HalfInterval: HalfInterval,
	}
}

// Run alternates launching a check and collecting its result every
// HalfInterval, until ctx is cancelled or the holdover budget is
// exceeded. It blocks; run it on its own goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.MaxHoldover <= 0 {
		<-ctx.Done()
		return nil
	}
	if s.HalfInterval <= 0 {
		s.HalfInterval = HalfInterval
	}

	ticker := time.NewTicker(s.HalfInterval)
	defer ticker.Stop()

	type result struct {
		locked bool
		err    error
	}
	pending := make(chan result, 1)
	launched := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !launched {
				launched = true
				go func() {
					locked, err := s.Sensor()
					pending <- result{locked: locked, err: err}
				}()
				continue
			}

			launched = false
			select {
			case r := <-pending:
				if r.err != nil || !r.locked {
					s.numChecksWithoutFix++
				} else {
					s.numChecksWithoutFix = 0
				}
			default:
				// Check has not returned yet; treat as another miss
				// rather than blocking the supervisor loop.
				s.numChecksWithoutFix++
			}

			// Each recorded miss spans a full launch+collect cycle,
			// i.e. 2*HalfInterval of real wall-clock time, not one
			// half-interval.
			elapsed := time.Duration(s.numChecksWithoutFix) * 2 * s.HalfInterval
			if elapsed > s.MaxHoldover {
				err := fmt.Errorf("clocksync: GPS holdover exceeded after %s without a fix", elapsed)
				if s.OnFatal != nil {
					s.OnFatal(err)
					return nil
				}
				return err
			}
		}
	}
}

// ChecksWithoutFix reports the current consecutive-miss count, for
// tests and status reporting.
func (s *Supervisor) ChecksWithoutFix() int { return s.numChecksWithoutFix }
