package types

import "time"

// systemClock implements Clock on the runtime's real time source.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Tick(d time.Duration) <-chan time.Time {
	return time.NewTicker(d).C
}

// SystemClock returns a Clock backed by the real time source.
func SystemClock() Clock { return systemClock{} }
