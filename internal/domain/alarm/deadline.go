package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MinUTCOffsetHours is the westernmost real-world UTC offset.
	MinUTCOffsetHours = -12
	// MaxUTCOffsetHours is the easternmost real-world UTC offset.
	MaxUTCOffsetHours = 14
)

var (
	// ErrInvalidTimeOfDay is returned when a label does not parse as a clock time.
	ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM")
	// ErrOffsetOutOfRange is returned for clock offsets outside [-12, +14] hours.
	ErrOffsetOutOfRange = errors.New("utc offset must be between -12 and +14 hours")
)

// ParseTimeOfDay parses a user-entered clock time ("7:30" or "07:30") into
// hour and minute. Seconds are not accepted; the label grain is one minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	rawHour, rawMinute, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	hour, err = strconv.Atoi(rawHour)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	minute, err = strconv.Atoi(rawMinute)
	if err != nil || len(rawMinute) != 2 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	return hour, minute, nil
}

// CanonicalLabel normalizes a parseable clock time to zero-padded HH:MM so
// "9:05" and "09:05" address the same alarm key.
func CanonicalLabel(s string) (string, error) {
	hour, minute, err := ParseTimeOfDay(s)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// ValidateUTCOffset checks a tenant clock offset against the real-world range.
func ValidateUTCOffset(hours int) error {
	if hours < MinUTCOffsetHours || hours > MaxUTCOffsetHours {
		return fmt.Errorf("%w: %+d", ErrOffsetOutOfRange, hours)
	}

	return nil
}

// ResolveDeadline interprets a user-entered clock time in the tenant's local
// frame and returns the canonical UTC instant of its next occurrence.
//
// The entered time is combined with the current tenant-local date; if the
// resulting instant is not strictly after tenant-local now, it rolls forward
// one day. The returned instant is therefore always strictly in the future.
func ResolveDeadline(label string, now time.Time, offsetHours int) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(label)
	if err != nil {
		return time.Time{}, err
	}

	if err := ValidateUTCOffset(offsetHours); err != nil {
		return time.Time{}, err
	}

	offset := time.Duration(offsetHours) * time.Hour

	// Shift into the tenant-local frame, pick today's occurrence there,
	// then shift the chosen instant back to true UTC.
	local := now.UTC().Add(offset)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, time.UTC)

	if !candidate.After(local) {
		candidate = candidate.Add(24 * time.Hour)
	}

	return candidate.Add(-offset), nil
}

// LocalClock renders a canonical UTC instant as HH:MM in the tenant-local frame.
func LocalClock(t time.Time, offsetHours int) string {
	return t.UTC().Add(time.Duration(offsetHours) * time.Hour).Format("15:04")
}
