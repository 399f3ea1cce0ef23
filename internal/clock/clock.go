package clock

import "time"

// Clock supplies the current instant. Services take a Clock instead of calling
// time.Now directly so deadline and timestamp checks can be pinned in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }
