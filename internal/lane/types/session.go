package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ParkingSession is the backend's record of a vehicle currently inside.
type ParkingSession struct {
	LogID        string      `json:"id"`
	CardID       string      `json:"cardId"`
	LicensePlate string      `json:"licensePlate"`
	EntryTime    EpochMillis `json:"entryTime"`
	ImagePath    string      `json:"image,omitempty"`
}

func (s ParkingSession) EntryAt() time.Time {
	return time.UnixMilli(int64(s.EntryTime))
}

// EntryRequest is the body of the create (entry) call.
type EntryRequest struct {
	LicensePlate string `json:"licensePlate"`
	CardID       string `json:"cardId"`
	Image        string `json:"image,omitempty"`
	EntryTime    int64  `json:"entryTime"`
}

// EpochMillis is a timestamp in milliseconds since the epoch. The backend
// sends it either as a number or, when echoing a stored document, as an
// RFC 3339 string; both decode to the same value.
type EpochMillis int64

func (m EpochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

func (m *EpochMillis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = EpochMillis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("entryTime %q: %w", s, err)
		}
		*m = EpochMillis(t.UnixMilli())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("entryTime: %w", err)
	}
	*m = EpochMillis(int64(f))
	return nil
}
