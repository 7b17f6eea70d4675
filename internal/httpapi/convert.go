package httpapi

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// statusToProto renders the status as a google.protobuf.Struct with the
// same field names as the JSON body.
func statusToProto(st StatusResponse) (proto.Message, error) {
	m := map[string]any{
		"lane":              string(st.Lane),
		"lane_id":           st.LaneID,
		"state":             string(st.State),
		"cycles":            float64(st.Cycles),
		"queue_size":        float64(st.QueueSize),
		"backend_reachable": st.BackendReachable,
		"last_cycle":        nil,
	}
	if st.BackendCheckedAt != nil {
		m["backend_checked_at"] = st.BackendCheckedAt.UTC().Format(time.RFC3339Nano)
	}
	if st.LastCycle != nil {
		m["last_cycle"] = cycleToMap(*st.LastCycle)
	}
	return structpb.NewStruct(m)
}

func cycleToMap(r types.CycleResult) map[string]any {
	return map[string]any{
		"lane":    string(r.Lane),
		"lane_id": r.LaneID,
		"card_id": r.CardID,
		"plate":   r.Plate,
		"image":   r.ImagePath,
		"outcome": string(r.Outcome),
		"detail":  r.Detail,
		"at":      r.At.UTC().Format(time.RFC3339Nano),
	}
}
