package controller

import (
	"fmt"
	"time"
)

// Duration is how long a vehicle stayed, decomposed for display.
// Minutes and Hours are totals, not remainders.
type Duration struct {
	Milliseconds int64
	Seconds      int64
	Minutes      int64
	Hours        int64
	Formatted    string // "2h 5m"
}

// ParkingDuration computes the stay between entry and exit. A negative
// span (clock skew between backend and lane) is reported as zero.
func ParkingDuration(entry, exit time.Time) Duration {
	ms := exit.UnixMilli() - entry.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	mins := secs / 60
	hours := mins / 60
	return Duration{
		Milliseconds: ms,
		Seconds:      secs,
		Minutes:      mins,
		Hours:        hours,
		Formatted:    fmt.Sprintf("%dh %dm", hours, mins%60),
	}
}
