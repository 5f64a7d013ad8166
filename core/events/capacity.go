package events

import (
	"time"

	"github.com/emsgo/dispatch/core/model"
)

// CapacityAlert is published when a facility condition should reach
// dispatch-center consoles, e.g. a diversion flag or a closed ED observed
// during matching.
type CapacityAlert struct {
	FacilityID string         `json:"facility_id"`
	Name       string         `json:"name"`
	EDStatus   model.EDStatus `json:"ed_status"`
	Diversion  bool           `json:"diversion"`
	Reason     string         `json:"reason"`
	Timestamp  time.Time      `json:"timestamp"`
}
