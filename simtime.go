package quanta

import (
	"fmt"
	"math"
	"strconv"
)

// nanosPerSecond is the number of subsecond nanoseconds per second.
const nanosPerSecond = 1_000_000_000

// SimTime is a monotonic absolute instant in simulated time, represented
// with nanosecond resolution as a signed number of seconds since the
// simulation Epoch plus a normalized subsecond remainder.
//
// SimTime intentionally does not embed time.Time: simulated time has no
// relationship to wall-clock time and must remain fully deterministic
// across runs and machines.
type SimTime struct {
	seconds     int64
	subsecNanos uint32 // always in [0, nanosPerSecond)
}

// Epoch is the origin instant that anchors all SimTime arithmetic.
var Epoch = SimTime{}

// Duration is a signed span of simulated time, expressed in nanoseconds.
// A Duration saturates at the int64 range rather than wrapping.
type Duration int64

// Common duration units, mirroring time.Duration's constants so callers
// can write Duration arithmetic the way they would with the standard
// library.
const (
	Nanosecond  Duration = 1
	Microsecond          = 1000 * Nanosecond
	Millisecond          = 1000 * Microsecond
	Second               = 1000 * Millisecond
)

// NewSimTime builds a SimTime from a seconds/nanosecond pair, normalizing
// subsecNanos into [0, 1e9).
func NewSimTime(seconds int64, subsecNanos int64) SimTime {
	extraSeconds := subsecNanos / nanosPerSecond
	rem := subsecNanos % nanosPerSecond

	if rem < 0 {
		rem += nanosPerSecond
		extraSeconds--
	}

	return SimTime{
		seconds:     seconds + extraSeconds,
		subsecNanos: uint32(rem),
	}
}

// Seconds returns the time as a floating point number of seconds since the
// Epoch. This is convenient for logging and for comparisons with legacy
// VTimeInSec-style code, but loses precision for very large times; prefer
// the exact accessors for scheduling decisions.
func (t SimTime) Seconds() float64 {
	return float64(t.seconds) + float64(t.subsecNanos)/float64(nanosPerSecond)
}

// WholeSeconds returns the signed whole-second component.
func (t SimTime) WholeSeconds() int64 {
	return t.seconds
}

// SubsecNanos returns the normalized nanosecond remainder, always in
// [0, 1e9).
func (t SimTime) SubsecNanos() uint32 {
	return t.subsecNanos
}

// Before reports whether t happens strictly before u.
func (t SimTime) Before(u SimTime) bool {
	return t.Compare(u) < 0
}

// After reports whether t happens strictly after u.
func (t SimTime) After(u SimTime) bool {
	return t.Compare(u) > 0
}

// Compare returns -1, 0, or 1 as t is before, equal to, or after u.
func (t SimTime) Compare(u SimTime) int {
	switch {
	case t.seconds < u.seconds:
		return -1
	case t.seconds > u.seconds:
		return 1
	case t.subsecNanos < u.subsecNanos:
		return -1
	case t.subsecNanos > u.subsecNanos:
		return 1
	default:
		return 0
	}
}

// Add returns t shifted by d, saturating instead of overflowing.
//
// Overflow reports true when the result saturated and could not exactly
// represent t+d.
func (t SimTime) Add(d Duration) (result SimTime, overflow bool) {
	secDelta := int64(d) / nanosPerSecond
	nanoDelta := int64(d) % nanosPerSecond

	newSeconds, carry := addInt64Checked(t.seconds, secDelta)
	if carry {
		if d > 0 {
			return SimTime{seconds: math.MaxInt64, subsecNanos: nanosPerSecond - 1}, true
		}
		return SimTime{seconds: math.MinInt64, subsecNanos: 0}, true
	}

	return NewSimTime(newSeconds, int64(t.subsecNanos)+nanoDelta), false
}

// Sub returns the signed duration from u to t (t - u), saturating on
// overflow.
func (t SimTime) Sub(u SimTime) (d Duration, overflow bool) {
	secDiff, carry := subInt64Checked(t.seconds, u.seconds)
	if carry {
		if t.seconds > u.seconds {
			return math.MaxInt64, true
		}
		return math.MinInt64, true
	}

	nanoDiff := int64(t.subsecNanos) - int64(u.subsecNanos)
	total := secDiff*nanosPerSecond + nanoDiff

	// secDiff*nanosPerSecond can itself overflow int64 for very distant
	// times; detect by checking the sign flipped unexpectedly.
	if secDiff != 0 && (total/nanosPerSecond) != secDiff {
		if secDiff > 0 {
			return math.MaxInt64, true
		}
		return math.MinInt64, true
	}

	return Duration(total), false
}

// String renders the time as "<seconds>.<nanos>s", matching the fixed-point
// style the teacher's VTimeInSec logger used (e.g. "%.10f").
func (t SimTime) String() string {
	return fmt.Sprintf("%d.%09ds", t.seconds, t.subsecNanos)
}

// MarshalJSON renders the time as a floating-point number of seconds,
// matching the teacher's VTimeInSec, which is itself just a float64.
func (t SimTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(t.Seconds(), 'f', -1, 64)), nil
}

// UnmarshalJSON parses the floating-point seconds form MarshalJSON
// writes, rounding the remainder to the nearest nanosecond.
func (t *SimTime) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("quanta: parse SimTime: %w", err)
	}

	secs := math.Floor(f)
	*t = NewSimTime(int64(secs), int64(math.Round((f-secs)*nanosPerSecond)))

	return nil
}

func addInt64Checked(a, b int64) (sum int64, overflow bool) {
	sum = a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}

func subInt64Checked(a, b int64) (diff int64, overflow bool) {
	diff = a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, true
	}
	return diff, false
}
