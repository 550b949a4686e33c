package api

import (
	"encoding/json"
	"net/http"

	"github.com/keeperlabs/orderkeeper/pkg/keeper"
)

// StatusResponse is the /status payload.
type StatusResponse struct {
	StartedAt    int64               `json:"startedAt"` // unix seconds
	TicksDropped int64               `json:"ticksDropped"`
	LastCycle    keeper.CycleSummary `json:"lastCycle"`
}

// CycleEvent is the websocket message sent after every completed cycle.
type CycleEvent struct {
	Type  string              `json:"type"`
	Cycle keeper.CycleSummary `json:"cycle"`
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
