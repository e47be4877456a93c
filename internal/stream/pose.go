package stream

import (
	"time"

	"github.com/nerfedge/scenecache/internal/geom"
)

// Pose is the viewer state driving prefetch decisions. Direction should be
// a unit vector; it is normalized defensively on update.
type Pose struct {
	Position    geom.Vec3
	Direction   geom.Vec3
	FieldOfView float64
}

// velocityWindow is how many per-update velocity samples feed the smoothed
// average used for predictive prefetch.
const velocityWindow = 10

// velocityTracker derives a smoothed velocity from successive pose updates.
// Velocity is not reported by clients; it is measured as position delta
// over wall time between updates.
type velocityTracker struct {
	samples  []geom.Vec3
	next     int
	lastPos  geom.Vec3
	lastTime time.Time
	seeded   bool
}

// Observe records a pose update at the given instant and returns the
// current smoothed velocity. The first observation only seeds the tracker.
func (v *velocityTracker) Observe(pos geom.Vec3, now time.Time) geom.Vec3 {
	if !v.seeded {
		v.lastPos = pos
		v.lastTime = now
		v.seeded = true
		return geom.Vec3{}
	}

	dt := now.Sub(v.lastTime).Seconds()
	if dt > 0 {
		sample := pos.Sub(v.lastPos).Scale(1 / dt)
		if len(v.samples) < velocityWindow {
			v.samples = append(v.samples, sample)
		} else {
			v.samples[v.next] = sample
			v.next = (v.next + 1) % velocityWindow
		}
	}
	v.lastPos = pos
	v.lastTime = now
	return v.Average()
}

// Average returns the mean of the retained velocity samples.
func (v *velocityTracker) Average() geom.Vec3 {
	if len(v.samples) == 0 {
		return geom.Vec3{}
	}
	var sum geom.Vec3
	for _, s := range v.samples {
		sum = sum.Add(s)
	}
	return sum.Scale(1 / float64(len(v.samples)))
}
