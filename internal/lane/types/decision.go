package types

// DecisionKind classifies the outcome of a mutating backend call.
type DecisionKind string

const (
	DecisionAccepted    DecisionKind = "accepted"
	DecisionRejected    DecisionKind = "rejected"
	DecisionDeleted     DecisionKind = "deleted"
	DecisionNotFound    DecisionKind = "not_found"
	DecisionUnreachable DecisionKind = "unreachable"
)

// Rejection codes returned by the backend in {error:{code}}.
const (
	CodeCardInUse = "CARD_IN_USE"
)

// Decision is the typed result of recordEntry / deleteSession.
type Decision struct {
	Kind DecisionKind

	// Session is set for Accepted when the backend echoes the created log.
	Session *ParkingSession

	// Code and Reason are set for Rejected.
	Code   string
	Reason string

	// Queued is true when an Unreachable call was persisted to the
	// offline queue for later replay.
	Queued bool
}

func (d Decision) OK() bool {
	return d.Kind == DecisionAccepted || d.Kind == DecisionDeleted
}

func Accepted(s *ParkingSession) Decision { return Decision{Kind: DecisionAccepted, Session: s} }

func Rejected(code, reason string) Decision {
	return Decision{Kind: DecisionRejected, Code: code, Reason: reason}
}

func Deleted() Decision  { return Decision{Kind: DecisionDeleted} }
func NotFound() Decision { return Decision{Kind: DecisionNotFound} }

func Unreachable(queued bool) Decision {
	return Decision{Kind: DecisionUnreachable, Queued: queued}
}
