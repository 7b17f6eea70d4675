package backend

import (
	"encoding/json"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// envelope is the backend's response wrapper:
//
//	{"success": true,  "data": {...}}
//	{"success": false, "error": {"code": "CARD_IN_USE", "message": "..."}}
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type sessionList struct {
	ParkingLogs []wireSession `json:"parkingLogs"`
}

// wireSession accepts both "id" and Mongo's raw "_id".
type wireSession struct {
	types.ParkingSession
	RawID string `json:"_id,omitempty"`
}

func (w wireSession) session() types.ParkingSession {
	s := w.ParkingSession
	if s.LogID == "" {
		s.LogID = w.RawID
	}
	return s
}

func decodeEnvelope(body []byte) (envelope, bool) {
	var env envelope
	if len(body) == 0 {
		return env, false
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, false
	}
	return env, true
}

func (e envelope) rejection(fallback string) (code, reason string) {
	if e.Error == nil {
		return "", fallback
	}
	reason = e.Error.Message
	if reason == "" {
		reason = fallback
	}
	return e.Error.Code, reason
}

func (e envelope) session() (*types.ParkingSession, bool) {
	if len(e.Data) == 0 {
		return nil, false
	}
	var w wireSession
	if err := json.Unmarshal(e.Data, &w); err != nil {
		return nil, false
	}
	s := w.session()
	if s.LogID == "" && s.CardID == "" {
		return nil, false
	}
	return &s, true
}

func (e envelope) sessions() ([]types.ParkingSession, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	var list sessionList
	if err := json.Unmarshal(e.Data, &list); err != nil {
		return nil, err
	}
	out := make([]types.ParkingSession, 0, len(list.ParkingLogs))
	for _, w := range list.ParkingLogs {
		out = append(out, w.session())
	}
	return out, nil
}
