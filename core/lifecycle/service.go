// Package lifecycle drives a dispatch through its state machine: it
// validates transitions against a static table, stamps milestone timestamps
// exactly once, derives response and transport metrics, appends the
// append-only history, and emits events after the transition commits.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/metrics"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
	"github.com/emsgo/dispatch/core/store"
)

// errReplay signals an idempotent re-submission inside an update closure.
var errReplay = errors.New("transition already applied")

// Service is the authoritative owner of dispatch state.
type Service struct {
	store   store.Store
	relay   relay.Publisher
	matcher *matcher.Matcher
	sink    metrics.Sink
	log     logger.Logger
	now     func() time.Time
}

// NewService creates a lifecycle service. The matcher may be nil when
// destination matching is driven externally; relay and sink default to no-ops.
func NewService(st store.Store, rel relay.Publisher, m *matcher.Matcher, sink metrics.Sink, log logger.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("lifecycle: nil store")
	}
	if rel == nil {
		rel = relay.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Service{store: st, relay: rel, matcher: m, sink: sink, log: log, now: time.Now}, nil
}

// SetClock overrides the time source; used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RequestInput describes a new dispatch request.
type RequestInput struct {
	CaseID        string
	Pickup        geo.Point
	PickupAddress string
	Priority      model.Priority
	PatientInfo   string
	Actor         string
}

// Request creates a dispatch in state requested and announces it to the
// dispatch center.
func (s *Service) Request(ctx context.Context, in RequestInput) (model.Dispatch, error) {
	if !in.Pickup.Valid() {
		return model.Dispatch{}, fault.New(fault.KindValidation, "pickup coordinates out of range")
	}
	if in.Priority == "" {
		in.Priority = model.PriorityRoutine
	}
	if !in.Priority.Valid() {
		return model.Dispatch{}, fault.New(fault.KindValidation, "unknown priority %q", in.Priority)
	}

	now := s.now().UTC()
	d := model.Dispatch{
		ID:            uuid.NewString(),
		Number:        dispatchNumber(now),
		CaseID:        in.CaseID,
		Priority:      in.Priority,
		Status:        model.DispatchRequested,
		Pickup:        in.Pickup,
		PickupAddress: in.PickupAddress,
		PatientInfo:   in.PatientInfo,
		Times:         model.Timestamps{RequestedAt: now},
	}
	if err := s.store.CreateDispatch(ctx, d); err != nil {
		return model.Dispatch{}, err
	}
	if s.log != nil {
		s.log.Infof("dispatch %s requested (priority %s)", d.Number, d.Priority)
	}
	s.relay.Publish(relay.EventDispatchStatusChanged, events.DispatchStatusChanged{
		DispatchID: d.ID,
		Number:     d.Number,
		NewStatus:  d.Status,
		Actor:      in.Actor,
		Timestamp:  now,
	}, relay.TopicDispatchCenter)
	return d, nil
}

// Assign attaches a vehicle to a requested dispatch and moves it to assigned.
// An empty vehicleID selects the nearest available vehicle to the pickup
// point, ties broken by vehicle ID.
func (s *Service) Assign(ctx context.Context, dispatchID, vehicleID, actor string) (model.Dispatch, error) {
	if vehicleID == "" {
		d, err := s.store.Dispatch(ctx, dispatchID)
		if err != nil {
			return model.Dispatch{}, err
		}
		vehicles, err := s.store.ListVehicles(ctx)
		if err != nil {
			return model.Dispatch{}, err
		}
		v, ok := SelectVehicle(vehicles, d.Pickup)
		if !ok {
			return model.Dispatch{}, fault.New(fault.KindNotFound, "no available vehicle for dispatch %s", dispatchID)
		}
		vehicleID = v.ID
	}

	// Claim the vehicle under its lock before touching the dispatch. Selection
	// runs on an unlocked snapshot, so two assigns can pick the same vehicle;
	// the claim re-checks dispatchability and only one of them wins.
	if _, err := s.store.UpdateVehicle(ctx, vehicleID, func(v *model.Vehicle) error {
		if !v.Dispatchable() {
			return fault.New(fault.KindValidation, "vehicle %s is %s, not assignable", v.ID, v.Status)
		}
		v.Status = model.VehicleDispatched
		return nil
	}); err != nil {
		return model.Dispatch{}, err
	}

	d, err := s.applyTransition(ctx, dispatchID, model.DispatchAssigned, actor, "", func(d *model.Dispatch) {
		d.VehicleID = vehicleID
	})
	if err != nil {
		s.releaseVehicle(ctx, vehicleID)
		return model.Dispatch{}, err
	}
	if d.VehicleID != vehicleID {
		// The dispatch was already assigned, so the transition replayed as a
		// no-op and our claim must not stand.
		s.releaseVehicle(ctx, vehicleID)
		return model.Dispatch{}, fault.New(fault.KindInvalidTransition, "dispatch %s already assigned to vehicle %s", d.Number, d.VehicleID)
	}
	return d, nil
}

// releaseVehicle undoes a claim whose dispatch transition did not commit.
func (s *Service) releaseVehicle(ctx context.Context, vehicleID string) {
	if _, err := s.store.UpdateVehicle(ctx, vehicleID, func(v *model.Vehicle) error {
		v.Status = model.VehicleAvailable
		return nil
	}); err != nil && s.log != nil {
		s.log.Errorf("vehicle %s release failed: %v", vehicleID, err)
	}
}

// Transition moves the dispatch to target. Re-submitting an already-applied
// transition is a successful no-op that appends no history row and emits no
// event.
func (s *Service) Transition(ctx context.Context, dispatchID string, target model.DispatchStatus, actor, note string) (model.Dispatch, error) {
	if !target.Valid() {
		return model.Dispatch{}, fault.New(fault.KindValidation, "unknown dispatch status %q", target)
	}
	if target == model.DispatchAssigned {
		return model.Dispatch{}, fault.New(fault.KindValidation, "use Assign to reach %q", target)
	}
	return s.applyTransition(ctx, dispatchID, target, actor, note, nil)
}

// applyTransition runs the transition under the per-dispatch lock, then
// applies the vehicle side effects and emits events. mutate, when non-nil,
// runs before validation-sensitive fields are read so Assign can set the
// vehicle reference in the same commit.
func (s *Service) applyTransition(ctx context.Context, dispatchID string, target model.DispatchStatus, actor, note string, mutate func(*model.Dispatch)) (model.Dispatch, error) {
	var old model.DispatchStatus
	now := s.now().UTC()

	d, err := s.store.UpdateDispatch(ctx, dispatchID, func(d *model.Dispatch) error {
		if d.Status == target {
			return errReplay
		}
		if !CanTransition(d.Status, target) {
			return fault.New(fault.KindInvalidTransition, "cannot transition dispatch %s from %s to %s", d.Number, d.Status, target)
		}
		if mutate != nil {
			mutate(d)
		}
		old = d.Status
		d.Status = target
		stamp(d, target, now)
		d.DeriveMetrics()
		d.History = append(d.History, model.StatusChange{
			ID:         uuid.NewString(),
			DispatchID: d.ID,
			OldStatus:  old,
			NewStatus:  target,
			Actor:      actor,
			Note:       note,
			Timestamp:  now,
		})
		return nil
	})
	if errors.Is(err, errReplay) {
		if s.log != nil {
			s.log.Debugf("dispatch %s already in %s, replay ignored", dispatchID, target)
		}
		return s.store.Dispatch(ctx, dispatchID)
	}
	if err != nil {
		if fault.Is(err, fault.KindInvalidTransition) {
			invalidTransitions.Inc()
		}
		if fault.Is(err, fault.KindBusy) {
			lockBusy.Inc()
		}
		return model.Dispatch{}, err
	}

	transitionsTotal.WithLabelValues(string(target)).Inc()
	if d.ResponseTime != nil && target == model.DispatchOnScene {
		responseTime.Observe(d.ResponseTime.Seconds())
	}
	s.syncVehicle(ctx, d, target)
	s.publishChange(d, old, target, actor, now)
	if target.Terminal() {
		s.recordCompletion(d)
	}
	return d, nil
}

// syncVehicle mirrors the dispatch state onto the assigned vehicle. A
// terminal transition releases the vehicle back to available.
func (s *Service) syncVehicle(ctx context.Context, d model.Dispatch, target model.DispatchStatus) {
	if d.VehicleID == "" {
		return
	}
	vs, ok := vehicleStatusFor(target)
	if !ok {
		return
	}
	if _, err := s.store.UpdateVehicle(ctx, d.VehicleID, func(v *model.Vehicle) error {
		v.Status = vs
		return nil
	}); err != nil && s.log != nil {
		s.log.Errorf("vehicle %s status sync failed: %v", d.VehicleID, err)
	}
}

func (s *Service) publishChange(d model.Dispatch, old, target model.DispatchStatus, actor string, now time.Time) {
	ev := events.DispatchStatusChanged{
		DispatchID: d.ID,
		Number:     d.Number,
		VehicleID:  d.VehicleID,
		OldStatus:  old,
		NewStatus:  target,
		Actor:      actor,
		Timestamp:  now,
	}
	topics := []string{relay.TopicDispatchCenter}
	if d.VehicleID != "" {
		topics = append(topics, relay.VehicleTopic(d.VehicleID))
	}
	if d.FacilityID != "" {
		topics = append(topics, relay.FacilityTopic(d.FacilityID))
	}
	s.relay.Publish(relay.EventDispatchStatusChanged, ev, topics...)
}

func (s *Service) recordCompletion(d model.Dispatch) {
	rec := metrics.DispatchCompletion{
		DispatchID:  d.ID,
		Number:      d.Number,
		VehicleID:   d.VehicleID,
		FacilityID:  d.FacilityID,
		Priority:    string(d.Priority),
		FinalStatus: string(d.Status),
		RequestedAt: d.Times.RequestedAt,
		CompletedAt: s.now().UTC(),
	}
	if d.ResponseTime != nil {
		rec.ResponseTimeSec = d.ResponseTime.Seconds()
	}
	if d.TransportTime != nil {
		rec.TransportTimeSec = d.TransportTime.Seconds()
	}
	if err := s.sink.RecordDispatchCompletion(rec); err != nil && s.log != nil {
		s.log.Errorf("completion metrics error: %v", err)
	}
}

// MatchDestination ranks destination facilities for the dispatch and records
// the best candidate as its destination. The origin is the assigned vehicle's
// last fix when one exists, otherwise the pickup point. An empty ranking is a
// normal outcome and leaves the dispatch untouched.
func (s *Service) MatchDestination(ctx context.Context, dispatchID string, req matcher.Request) ([]matcher.Ranked, error) {
	if s.matcher == nil {
		return nil, fmt.Errorf("lifecycle: no matcher configured")
	}
	d, err := s.store.Dispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, fault.New(fault.KindInvalidTransition, "dispatch %s is %s", d.Number, d.Status)
	}

	origin := d.Pickup
	if d.VehicleID != "" {
		if v, err := s.store.Vehicle(ctx, d.VehicleID); err == nil && v.Position != nil {
			origin = *v.Position
		}
	}
	req.Position = origin
	req.Urgent = req.Urgent || d.Priority.Urgent()

	ranked, err := s.matcher.Match(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		if s.log != nil {
			s.log.Warnf("no destination available for dispatch %s", d.Number)
		}
		return ranked, nil
	}

	best := ranked[0]
	if _, err := s.store.UpdateDispatch(ctx, dispatchID, func(d *model.Dispatch) error {
		if d.Status.Terminal() {
			return fault.New(fault.KindInvalidTransition, "dispatch %s is %s", d.Number, d.Status)
		}
		pos := best.Facility.Position
		d.Destination = &pos
		d.DestinationAddress = best.Facility.Name
		d.FacilityID = best.Facility.FacilityID
		return nil
	}); err != nil {
		return nil, err
	}
	return ranked, nil
}

// Dispatch returns the dispatch record.
func (s *Service) Dispatch(ctx context.Context, id string) (model.Dispatch, error) {
	return s.store.Dispatch(ctx, id)
}

// SelectVehicle picks the nearest dispatchable vehicle to the pickup point.
// Vehicles without a position fix cannot be ranked and are skipped. Ties are
// broken by vehicle ID for determinism.
func SelectVehicle(vehicles []model.Vehicle, pickup geo.Point) (model.Vehicle, bool) {
	var best model.Vehicle
	bestDist := 0.0
	found := false
	for _, v := range vehicles {
		if !v.Dispatchable() || v.Position == nil {
			continue
		}
		d := geo.DistanceKm(*v.Position, pickup)
		if !found || d < bestDist || (d == bestDist && v.ID < best.ID) {
			best, bestDist, found = v, d, true
		}
	}
	return best, found
}

// dispatchNumber builds the human-facing dispatch number, e.g.
// DISP-20250601-042137.
func dispatchNumber(now time.Time) string {
	return fmt.Sprintf("DISP-%s-%06d", now.Format("20060102"), rand.IntN(1_000_000))
}
