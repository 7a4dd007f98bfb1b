package planner

import (
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the length of one service day in minutes.
const MinutesPerDay = 24 * 60

// TimeError reports a malformed GTFS time string.
type TimeError struct {
	Value  string
	Reason string
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("malformed time %q: %s", e.Value, e.Reason)
}

// parseClock splits "HH:MM:SS" (or "HH:MM") into hours and minutes.
// Hours are not bounded above; GTFS uses 24+ for next-day service.
func parseClock(t string) (hours, minutes int, err error) {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, &TimeError{Value: t, Reason: "want HH:MM:SS"}
	}
	fields := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, &TimeError{Value: t, Reason: "non-numeric field"}
		}
		fields[i] = n
	}
	if fields[1] > 59 || (len(fields) == 3 && fields[2] > 59) {
		return 0, 0, &TimeError{Value: t, Reason: "field out of range"}
	}
	return fields[0], fields[1], nil
}

// TimeToMinutes returns hours*60+minutes without folding extended hours.
func TimeToMinutes(t string) (int, error) {
	h, m, err := parseClock(t)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// NormalizedTimeToMinutes folds the hour onto the clock face (hours mod 24)
// before converting.
func NormalizedTimeToMinutes(t string) (int, error) {
	h, m, err := parseClock(t)
	if err != nil {
		return 0, err
	}
	return (h%24)*60 + m, nil
}

// DayOffsetOf returns floor(hours/24).
func DayOffsetOf(t string) (int, error) {
	h, _, err := parseClock(t)
	if err != nil {
		return 0, err
	}
	return h / 24, nil
}

// WaitMinutes returns the minutes from now until the next occurrence of a
// departure, wrapping by whole days while the departure is behind now.
func WaitMinutes(nowMinutes, departureRawMinutes int) int {
	wait := departureRawMinutes - nowMinutes
	for wait < 0 {
		wait += MinutesPerDay
	}
	return wait
}

// DurationMinutes returns end-start, adding one day when negative. Spans
// longer than a day must be expressed with extended hours to come out right.
func DurationMinutes(startRaw, endRaw int) int {
	d := endRaw - startRaw
	if d < 0 {
		d += MinutesPerDay
	}
	return d
}
