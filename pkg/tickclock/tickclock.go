// Package tickclock implements a monotonic, pausable tick source driven
// off a pluggable wall-clock, so pause/resume semantics stay
// deterministically testable.
package tickclock

import "time"

// Rate is ticks per second.
const Rate = 64

// Clock is a monotonic tick counter that can be paused (freezing tick
// advancement, e.g. while a menu is open) and offset (for the client
// catching its local clock up to a server-provided tick).
type Clock struct {
	now func() time.Time

	enabled    bool
	startTime  time.Time
	paused     bool
	pauseStart time.Time
	pauseAccum time.Duration
	tickOffset uint64
}

// New returns a stopped clock driven by the real wall clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource returns a stopped clock driven by a caller-supplied time
// source, for deterministic tests.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Start begins tick advancement from zero.
func (c *Clock) Start() {
	c.enabled = true
	c.startTime = c.now()
	c.paused = false
	c.pauseAccum = 0
	c.tickOffset = 0
}

// Stop halts the clock; TotalTicks returns 0 until Start is called again.
func (c *Clock) Stop() {
	c.enabled = false
	c.startTime = time.Time{}
	c.paused = false
	c.pauseAccum = 0
	c.tickOffset = 0
}

// Pause freezes tick advancement, e.g. while a menu is showing.
func (c *Clock) Pause() {
	if c.enabled && !c.paused {
		c.paused = true
		c.pauseStart = c.now()
	}
}

// Unpause resumes tick advancement from where it was paused.
func (c *Clock) Unpause() {
	if c.enabled && c.paused {
		c.paused = false
		c.pauseAccum += c.now().Sub(c.pauseStart)
	}
}

// Paused reports whether the clock is currently paused.
func (c *Clock) Paused() bool { return c.paused }

// SetTickOffset shifts TotalTicks by a fixed number of ticks, used by the
// client to align its local tick counter to a server-reported tick on
// connect.
func (c *Clock) SetTickOffset(ticks uint64) {
	c.tickOffset = ticks
}

// TotalTicks returns the number of ticks elapsed since Start, excluding
// any paused intervals, plus the configured offset. Returns 0 if the
// clock has never been started.
func (c *Clock) TotalTicks() uint64 {
	if !c.enabled {
		return 0
	}
	elapsed := c.now().Sub(c.startTime) - c.pauseAccum
	if c.paused {
		elapsed -= c.now().Sub(c.pauseStart)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return uint64(elapsed.Milliseconds())*Rate/1000 + c.tickOffset
}
