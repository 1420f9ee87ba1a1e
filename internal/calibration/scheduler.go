package calibration

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop cancels the callback. Returns false if it already ran or was stopped.
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler func(d time.Duration, f func()) Timer

// AfterFunc is the default Scheduler, backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
