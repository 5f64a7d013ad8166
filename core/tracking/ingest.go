// Package tracking ingests GPS samples: it validates them, rejects stale
// fixes, persists the append-only tracking log, updates the vehicle's live
// position under its exclusive lock, evaluates geofence crossings exactly
// once per accepted sample and broadcasts the resulting events.
package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/geofence"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/metrics"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
	"github.com/emsgo/dispatch/core/routing"
	"github.com/emsgo/dispatch/core/store"
)

// Service ingests tracking samples for the fleet.
type Service struct {
	store     store.Store
	zones     *geofence.ZoneCache
	relay     relay.Publisher
	estimator routing.Estimator
	sink      metrics.Sink
	log       logger.Logger
	now       func() time.Time
}

// NewService creates a tracking service. The zone cache may be nil when no
// geofencing is configured; relay and sink default to no-ops.
func NewService(st store.Store, zones *geofence.ZoneCache, rel relay.Publisher, est routing.Estimator, sink metrics.Sink, log logger.Logger) (*Service, error) {
	if st == nil {
		return nil, fault.New(fault.KindValidation, "tracking: nil store")
	}
	if rel == nil {
		rel = relay.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Service{store: st, zones: zones, relay: rel, estimator: est, sink: sink, log: log, now: time.Now}, nil
}

// SetClock overrides the time source; used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SampleInput is one reported GPS fix.
type SampleInput struct {
	VehicleID  string    `json:"vehicle_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg"`
	AccuracyM  float64   `json:"accuracy_m"`
	Timestamp  time.Time `json:"timestamp"`
}

// Result reports what ingestion did with the sample.
type Result struct {
	SampleID string `json:"sample_id,omitempty"`
	Stale    bool   `json:"stale"`

	Vehicle  model.Vehicle         `json:"-"`
	Crossed  []geofence.Transition `json:"-"`
	Distance *float64              `json:"-"`
	ETA      *time.Time            `json:"-"`
}

// Ingest processes one sample. A stale sample (not newer than the vehicle's
// last fix) is dropped without error: the vehicle record stays unchanged, no
// events fire and Result.Stale is set. All side effects of an accepted sample
// run exactly once.
func (s *Service) Ingest(ctx context.Context, in SampleInput) (Result, error) {
	pos := geo.Point{Lat: in.Lat, Lon: in.Lon}
	if in.VehicleID == "" {
		return Result{}, fault.New(fault.KindValidation, "vehicle id must not be empty")
	}
	if !pos.Valid() {
		return Result{}, fault.New(fault.KindValidation, "coordinates out of range: lat=%v lon=%v", in.Lat, in.Lon)
	}
	now := s.now().UTC()
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}

	var prev *geo.Point
	v, err := s.store.UpdateVehicle(ctx, in.VehicleID, func(v *model.Vehicle) error {
		if v.LastFix != nil && !in.Timestamp.After(*v.LastFix) {
			return fault.New(fault.KindStaleSample, "sample at %s is not newer than last fix %s",
				in.Timestamp.Format(time.RFC3339), v.LastFix.Format(time.RFC3339))
		}
		if v.Position != nil {
			p := *v.Position
			prev = &p
		}
		v.Position = &pos
		ts := in.Timestamp
		v.LastFix = &ts
		v.SpeedKmh = in.SpeedKmh
		v.HeadingDeg = in.HeadingDeg
		return nil
	})
	if fault.Is(err, fault.KindStaleSample) {
		samplesStale.Inc()
		if s.log != nil {
			s.log.Debugf("tracking: dropped stale sample for vehicle %s: %v", in.VehicleID, err)
		}
		return Result{Stale: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	dispatch, assigned, err := s.store.ActiveDispatchForVehicle(ctx, in.VehicleID)
	if err != nil {
		return Result{}, err
	}

	sample := model.TrackingSample{
		ID:         uuid.NewString(),
		VehicleID:  in.VehicleID,
		Position:   pos,
		SpeedKmh:   in.SpeedKmh,
		HeadingDeg: in.HeadingDeg,
		AccuracyM:  in.AccuracyM,
		Timestamp:  in.Timestamp,
	}
	if assigned {
		sample.DispatchID = dispatch.ID
	}
	if err := s.store.AppendSample(ctx, sample); err != nil {
		return Result{}, err
	}
	samplesIngested.Inc()

	res := Result{SampleID: sample.ID, Vehicle: v}
	res.Crossed = s.applyGeofences(ctx, &res.Vehicle, prev, pos, now)

	if assigned {
		res.Distance, res.ETA = s.progress(ctx, dispatch, pos, in.SpeedKmh, now)
	}

	s.relay.Publish(relay.EventLocationUpdate, events.LocationUpdate{
		VehicleID:        in.VehicleID,
		DispatchID:       sample.DispatchID,
		Position:         pos,
		SpeedKmh:         in.SpeedKmh,
		HeadingDeg:       in.HeadingDeg,
		Status:           res.Vehicle.Status,
		Timestamp:        in.Timestamp,
		DistanceToDestKm: res.Distance,
		ETA:              res.ETA,
	}, relay.VehicleTopic(in.VehicleID), relay.TopicDispatchCenter)

	if err := s.sink.RecordLocation(metrics.LocationPoint{
		VehicleID:  in.VehicleID,
		DispatchID: sample.DispatchID,
		Lat:        pos.Lat,
		Lon:        pos.Lon,
		SpeedKmh:   in.SpeedKmh,
		Timestamp:  in.Timestamp,
	}); err != nil && s.log != nil {
		s.log.Errorf("tracking: location metrics error: %v", err)
	}
	return res, nil
}

// applyGeofences evaluates zone crossings for the accepted sample and applies
// their obligations: an entry with a configured target status updates the
// vehicle, and crossings with notifications enabled go out on the relay.
func (s *Service) applyGeofences(ctx context.Context, v *model.Vehicle, prev *geo.Point, cur geo.Point, now time.Time) []geofence.Transition {
	if s.zones == nil {
		return nil
	}
	zones, err := s.zones.Zones(ctx)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("tracking: zone fetch failed, skipping geofence pass: %v", err)
		}
		return nil
	}
	crossed := geofence.Evaluate(prev, cur, zones)
	for _, tr := range crossed {
		geofenceEvents.WithLabelValues(string(tr.Direction)).Inc()

		ev := events.GeofenceEvent{
			VehicleID:  v.ID,
			ZoneID:     tr.Zone.ID,
			ZoneName:   tr.Zone.Name,
			ZoneType:   tr.Zone.Type,
			Transition: events.GeofenceTransition(tr.Direction),
			Timestamp:  now,
		}
		if tr.Direction == geofence.Entered && tr.TargetStatus != "" {
			updated, err := s.store.UpdateVehicle(ctx, v.ID, func(v *model.Vehicle) error {
				v.Status = tr.TargetStatus
				return nil
			})
			if err != nil {
				if s.log != nil {
					s.log.Errorf("tracking: zone %s status change for vehicle %s failed: %v", tr.Zone.ID, v.ID, err)
				}
			} else {
				*v = updated
				ev.NewStatus = tr.TargetStatus
			}
		}
		if tr.Notify {
			topics := []string{relay.VehicleTopic(v.ID), relay.TopicDispatchCenter}
			if tr.Zone.FacilityID != "" {
				topics = append(topics, relay.FacilityTopic(tr.Zone.FacilityID))
			}
			s.relay.Publish(relay.EventGeofence, ev, topics...)
		}
	}
	return crossed
}

// VehicleStatuses returns the live fleet snapshot for status boards.
func (s *Service) VehicleStatuses(ctx context.Context) ([]model.Vehicle, error) {
	return s.store.ListVehicles(ctx)
}
