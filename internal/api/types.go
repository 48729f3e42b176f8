package api

import (
	"time"

	"sublimine-ids/pkg/types"
)

// Snapshot is the dashboard's point-in-time composite view, returned by
// GET /api/snapshot and sent to every WebSocket client on connect.
type Snapshot struct {
	Timestamp time.Time                 `json:"timestamp"`
	State     types.EngineState         `json:"engine_state"`
	Health    types.DataQualitySnapshot `json:"health"`
	Positions []types.PositionSnapshot  `json:"positions"`
}

// Provider is the read-only view of engine state the dashboard needs.
// Runner implements this directly.
type Provider interface {
	LatestHealth() types.DataQualitySnapshot
	EngineState() types.EngineState
	Positions() []types.PositionSnapshot
}

// BuildSnapshot assembles the current Snapshot from a Provider.
func BuildSnapshot(p Provider) Snapshot {
	return Snapshot{
		Timestamp: time.Now().UTC(),
		State:     p.EngineState(),
		Health:    p.LatestHealth(),
		Positions: p.Positions(),
	}
}
