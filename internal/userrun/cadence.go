package userrun

import "time"

// COMode selects how a User's coordinated-omission cadence tracker computes
// its expected inter-request gap c, and how aggressively it back-fills.
type COMode int

const (
	// CODisabled performs no back-fill.
	CODisabled COMode = iota
	// COAverage tracks c as an EWMA of observed gaps.
	COAverage
	// COMinimum tracks c as the minimum observed gap (the floor cadence).
	COMinimum
	// COMaximum tracks c as the maximum observed gap.
	COMaximum
)

// ParseCOMode maps a CLI flag value to a COMode.
func ParseCOMode(s string) (COMode, error) {
	switch s {
	case "", "disabled":
		return CODisabled, nil
	case "average":
		return COAverage, nil
	case "minimum":
		return COMinimum, nil
	case "maximum":
		return COMaximum, nil
	default:
		return 0, &unknownCOModeError{s}
	}
}

type unknownCOModeError struct{ value string }

func (e *unknownCOModeError) Error() string { return "unknown co-mitigation mode: " + e.value }

// ewmaAlpha smooths the average-mode cadence estimate.
const ewmaAlpha = 0.2

// coBackfillFactor (k in spec §4.4) scales the expected cadence to decide
// whether a gap counts as a stall.
const coBackfillFactor = 2

// cadence tracks one User's request timing to detect coordinated omission.
type cadence struct {
	mode        COMode
	minCadence  time.Duration
	c           time.Duration // current expected cadence estimate
	haveSample  bool
	lastRequest time.Time
}

func newCadence(mode COMode, minCadence time.Duration) *cadence {
	return &cadence{mode: mode, minCadence: minCadence}
}

// observe records the gap since the previous request (if any), updates the
// cadence estimate, and — when the mode is enabled and a stall is detected
// — returns the elapsed gap and the number of missed slots to back-fill
// (spec §4.4: "one back-filled request metric per missed slot").
func (c *cadence) observe(now time.Time) (gap time.Duration, slots int, stalled bool) {
	defer func() { c.lastRequest = now }()

	if !c.haveSample {
		c.haveSample = true
		return 0, 0, false
	}
	gap = now.Sub(c.lastRequest)

	// A stall is judged against the estimate held before this gap; the
	// first gap only seeds that estimate and never counts as a stall.
	prev := c.c
	threshold := prev * coBackfillFactor
	if threshold < c.minCadence {
		threshold = c.minCadence
	}

	stalled = c.mode != CODisabled && prev > 0 && gap > threshold

	switch c.mode {
	case COAverage:
		if c.c == 0 {
			c.c = gap
		} else {
			c.c = time.Duration(float64(c.c)*(1-ewmaAlpha) + float64(gap)*ewmaAlpha)
		}
	case COMinimum:
		if c.c == 0 || gap < c.c {
			c.c = gap
		}
	case COMaximum:
		if gap > c.c {
			c.c = gap
		}
	}

	if !stalled {
		return 0, 0, false
	}

	// Missed-slot count: how many intervals of the pre-gap cadence estimate
	// the gap spans, at least one.
	slots = 1
	if n := int(gap / prev); n > slots {
		slots = n
	}
	return gap, slots, true
}

// current returns the cadence estimate in milliseconds, for the
// user_cadence Request Metric field.
func (c *cadence) current() int64 {
	return c.c.Milliseconds()
}
