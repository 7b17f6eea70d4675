package types

import "time"

// Position identifies which lane a capability is serving.
type Position string

const (
	PositionEntry Position = "entry"
	PositionExit  Position = "exit"
)

func (p Position) Valid() bool {
	return p == PositionEntry || p == PositionExit
}

// State is a lane controller state.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingCard  State = "awaiting_card"
	StateRecognizing   State = "recognizing"
	StateAuthorizing   State = "authorizing"
	StateActuating     State = "actuating"
	StateErrorFeedback State = "error_feedback"
)

// Outcome is the result of one lane cycle.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeCardReadFailed     Outcome = "card_read_failed"
	OutcomeRecognitionFailed  Outcome = "recognition_failed"
	OutcomeBackendRejected    Outcome = "backend_rejected"
	OutcomeBackendUnreachable Outcome = "backend_unreachable"
	OutcomePlateMismatch      Outcome = "plate_mismatch"
	OutcomeSessionNotFound    Outcome = "session_not_found"
	OutcomeAborted            Outcome = "aborted"
	OutcomeActuatorFailed     Outcome = "actuator_failed"
	// OutcomeIdle: a card poll timed out with no vehicle present. It is
	// not a finished cycle and is neither recorded nor published.
	OutcomeIdle               Outcome = "idle"
)

// CycleResult is the ephemeral record of one lane cycle. It drives
// feedback, logging and notifications and is never persisted.
type CycleResult struct {
	Lane      Position  `json:"lane"`
	LaneID    string    `json:"lane_id"`
	CardID    string    `json:"card_id,omitempty"`
	Plate     string    `json:"plate,omitempty"`
	ImagePath string    `json:"image,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// GateOpened reports whether the outcome is one in which the gate was
// actuated.
func (r CycleResult) GateOpened() bool {
	return r.Outcome == OutcomeSuccess
}
