// Package clock provides an injectable time source so that the FUSE
// adapter's time-dependent behaviour (control-file timestamps, fetch
// latency timing) can be tested without real sleeps.
package clock

import "time"

// Clock is a source of the current time and of timers. The adapter reads
// the time through a Clock rather than calling time.Now directly. The
// engine uses no clock: staleness is decided by comparing caller-supplied
// mtimes.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
