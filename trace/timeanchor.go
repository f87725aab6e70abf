package trace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeAnchor maps nanotime() timestamps to real-world instants, so a
// collector receiving only relative nanos can recover absolute time.
//
// Ported from appruntime/exported/trace2/timeanchor.go, with one wire
// change: spec.md §4.8 specifies the header form
// "<wall_time_rfc3339>;<monotonic_ns>" (semicolon, wall time first), the
// reverse order and separator of the teacher's "<nano> <rfc3339nano>".
type TimeAnchor struct {
	nano int64
	real time.Time
}

func NewTimeAnchor(nano int64, real time.Time) TimeAnchor {
	return TimeAnchor{nano: nano, real: real}
}

func NewTimeAnchorNow() TimeAnchor {
	return NewTimeAnchor(nanotime(), time.Now())
}

// ToReal converts a nanotime() timestamp to a real-world instant.
func (ta TimeAnchor) ToReal(nano int64) time.Time {
	return ta.real.Add(time.Duration(nano - ta.nano))
}

// MarshalText renders the anchor as "<wall_time_rfc3339>;<monotonic_ns>".
func (ta TimeAnchor) MarshalText() ([]byte, error) {
	return []byte(ta.real.Format(time.RFC3339Nano) + ";" + strconv.FormatInt(ta.nano, 10)), nil
}

func (ta *TimeAnchor) UnmarshalText(text []byte) error {
	realStr, nanoStr, ok := strings.Cut(string(text), ";")
	if !ok {
		return fmt.Errorf("trace: invalid time anchor %q", text)
	}
	real, err := time.Parse(time.RFC3339Nano, realStr)
	if err != nil {
		return err
	}
	nano, err := strconv.ParseInt(nanoStr, 10, 64)
	if err != nil {
		return err
	}
	ta.real = real
	ta.nano = nano
	return nil
}
