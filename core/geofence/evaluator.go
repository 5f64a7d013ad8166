// Package geofence derives zone enter/exit transitions from consecutive
// vehicle positions. The evaluator is pure: it receives the explicit
// (previous, current) pair and the zone set, and returns the obligations the
// caller must apply exactly once per new sample.
package geofence

import (
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/model"
)

// Direction of a zone boundary crossing.
type Direction string

const (
	Entered Direction = "entered"
	Exited  Direction = "exited"
)

// Transition is one detected crossing and the obligations it carries.
type Transition struct {
	Zone      model.GeofenceZone
	Direction Direction

	// TargetStatus is the vehicle status the zone forces on entry, empty when
	// the zone has no auto-status-change configured or the crossing is an exit.
	TargetStatus model.VehicleStatus

	// Notify reports whether the zone wants an event on the relay.
	Notify bool
}

// Evaluate compares previous and current positions against every active zone.
// A nil previous position (first fix) yields no transitions. The result is
// deterministic for identical input; idempotence against replays is the
// caller's responsibility.
func Evaluate(prev *geo.Point, cur geo.Point, zones []model.GeofenceZone) []Transition {
	if prev == nil {
		return nil
	}
	var out []Transition
	for _, z := range zones {
		if !z.Active {
			continue
		}
		wasInside := z.Contains(*prev)
		isInside := z.Contains(cur)
		switch {
		case isInside && !wasInside:
			tr := Transition{Zone: z, Direction: Entered, Notify: z.Notify}
			if z.TargetStatus != "" {
				tr.TargetStatus = z.TargetStatus
			}
			out = append(out, tr)
		case !isInside && wasInside:
			out = append(out, Transition{Zone: z, Direction: Exited, Notify: z.Notify})
		}
	}
	return out
}
