package events

import (
	"time"

	"github.com/emsgo/dispatch/core/model"
)

// DispatchStatusChanged is published after a lifecycle transition commits.
type DispatchStatusChanged struct {
	DispatchID string               `json:"dispatch_id"`
	Number     string               `json:"number"`
	VehicleID  string               `json:"vehicle_id,omitempty"`
	OldStatus  model.DispatchStatus `json:"old_status"`
	NewStatus  model.DispatchStatus `json:"new_status"`
	Actor      string               `json:"actor"`
	Timestamp  time.Time            `json:"timestamp"`
}
