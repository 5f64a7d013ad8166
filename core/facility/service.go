// Package facility maintains destination facility status snapshots. Updates
// come from facility staff systems; the service stores the snapshot and raises
// a capacity alert when a facility degrades in a way dispatch-center consoles
// need to see immediately.
package facility

import (
	"context"
	"fmt"
	"time"

	"github.com/emsgo/dispatch/core/events"
	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
)

// StatusStore reads and writes facility snapshots.
type StatusStore interface {
	FacilityStatus(ctx context.Context, facilityID string) (model.FacilityStatus, error)
	PutFacilityStatus(ctx context.Context, f model.FacilityStatus) error
}

// Service owns the facility status write path.
type Service struct {
	store StatusStore
	relay relay.Publisher
	log   logger.Logger
	now   func() time.Time
}

// NewService creates a facility service. The relay defaults to a no-op.
func NewService(st StatusStore, rel relay.Publisher, log logger.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("facility: nil store")
	}
	if rel == nil {
		rel = relay.Nop{}
	}
	return &Service{store: st, relay: rel, log: log, now: time.Now}, nil
}

// SetClock overrides the time source; used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// UpdateStatus validates and stores the snapshot. Alert conditions that were
// absent in the previous snapshot and present now publish a capacity alert to
// the facility topic and the dispatch center.
func (s *Service) UpdateStatus(ctx context.Context, fs model.FacilityStatus) (model.FacilityStatus, error) {
	if fs.FacilityID == "" {
		return model.FacilityStatus{}, fault.New(fault.KindValidation, "facility id must not be empty")
	}
	if !fs.Position.Valid() {
		return model.FacilityStatus{}, fault.New(fault.KindValidation, "facility coordinates out of range")
	}

	prev, err := s.store.FacilityStatus(ctx, fs.FacilityID)
	if err != nil && !fault.Is(err, fault.KindNotFound) {
		return model.FacilityStatus{}, err
	}
	if err := s.store.PutFacilityStatus(ctx, fs); err != nil {
		return model.FacilityStatus{}, err
	}

	if reason, ok := alertReason(prev, fs); ok {
		if s.log != nil {
			s.log.Warnf("facility %s capacity alert: %s", fs.FacilityID, reason)
		}
		s.relay.Publish(relay.EventCapacityAlert, events.CapacityAlert{
			FacilityID: fs.FacilityID,
			Name:       fs.Name,
			EDStatus:   fs.EDStatus,
			Diversion:  fs.Diversion,
			Reason:     reason,
			Timestamp:  s.now().UTC(),
		}, relay.FacilityTopic(fs.FacilityID), relay.TopicDispatchCenter)
	}
	return fs, nil
}

// alertReason reports the first condition that appeared between prev and cur.
// Conditions already present in prev stay silent so repeated snapshots do not
// re-alert.
func alertReason(prev, cur model.FacilityStatus) (string, bool) {
	if cur.Diversion && !prev.Diversion {
		return "diversion declared", true
	}
	if degradedED(cur.EDStatus) && !degradedED(prev.EDStatus) {
		return fmt.Sprintf("emergency department %s", cur.EDStatus), true
	}
	for bt, c := range cur.Beds {
		if c.Total == 0 || c.Available > 0 {
			continue
		}
		if p, ok := prev.Beds[bt]; !ok || p.Total == 0 || p.Available > 0 {
			return fmt.Sprintf("no %s beds available", bt), true
		}
	}
	return "", false
}

func degradedED(s model.EDStatus) bool {
	return s == model.EDCritical || s == model.EDClosed
}
