// Package store provides the persistence implementations: an in-memory store
// with per-entity exclusive locks for live state, and a SQLite archive for
// the append-only history and tracking log.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/model"
)

// defaultLockWait bounds how long an update waits for the per-entity lock
// before failing with a retryable Busy fault.
const defaultLockWait = 500 * time.Millisecond

// keyedLocks hands out one exclusive token per entity key.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]chan struct{})}
}

func (k *keyedLocks) lock(ctx context.Context, key string, wait time.Duration) error {
	k.mu.Lock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fault.New(fault.KindBusy, "entity %s is locked, retry", key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *keyedLocks) unlock(key string) {
	k.mu.Lock()
	ch := k.locks[key]
	k.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// MemoryStore implements store.Store with in-process maps. Updates for the
// same vehicle or dispatch are serialized through keyed locks so the second
// writer always observes the first writer's committed state.
type MemoryStore struct {
	mu         sync.RWMutex
	vehicles   map[string]model.Vehicle
	dispatches map[string]model.Dispatch
	samples    map[string][]model.TrackingSample
	zones      []model.GeofenceZone
	facilities map[string]model.FacilityStatus

	locks    *keyedLocks
	lockWait time.Duration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:   make(map[string]model.Vehicle),
		dispatches: make(map[string]model.Dispatch),
		samples:    make(map[string][]model.TrackingSample),
		facilities: make(map[string]model.FacilityStatus),
		locks:      newKeyedLocks(),
		lockWait:   defaultLockWait,
	}
}

// SetLockWait overrides the bounded lock wait; used by tests.
func (s *MemoryStore) SetLockWait(d time.Duration) { s.lockWait = d }

func (s *MemoryStore) Vehicle(_ context.Context, id string) (model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return model.Vehicle{}, fault.New(fault.KindNotFound, "vehicle %s", id)
	}
	return v, nil
}

func (s *MemoryStore) ListVehicles(context.Context) ([]model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutVehicle(_ context.Context, v model.Vehicle) error {
	if err := v.Validate(); err != nil {
		return fault.Wrap(fault.KindValidation, err, "vehicle")
	}
	s.mu.Lock()
	s.vehicles[v.ID] = v
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpdateVehicle(ctx context.Context, id string, fn func(*model.Vehicle) error) (model.Vehicle, error) {
	if err := s.locks.lock(ctx, "vehicle:"+id, s.lockWait); err != nil {
		return model.Vehicle{}, err
	}
	defer s.locks.unlock("vehicle:" + id)

	s.mu.RLock()
	v, ok := s.vehicles[id]
	s.mu.RUnlock()
	if !ok {
		return model.Vehicle{}, fault.New(fault.KindNotFound, "vehicle %s", id)
	}
	if err := fn(&v); err != nil {
		return model.Vehicle{}, err
	}
	s.mu.Lock()
	s.vehicles[id] = v
	s.mu.Unlock()
	return v, nil
}

func (s *MemoryStore) Dispatch(_ context.Context, id string) (model.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dispatches[id]
	if !ok {
		return model.Dispatch{}, fault.New(fault.KindNotFound, "dispatch %s", id)
	}
	d.History = append([]model.StatusChange(nil), d.History...)
	return d, nil
}

func (s *MemoryStore) CreateDispatch(_ context.Context, d model.Dispatch) error {
	if err := d.Validate(); err != nil {
		return fault.Wrap(fault.KindValidation, err, "dispatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dispatches[d.ID]; exists {
		return fault.New(fault.KindValidation, "dispatch %s already exists", d.ID)
	}
	s.dispatches[d.ID] = d
	return nil
}

func (s *MemoryStore) ActiveDispatchForVehicle(_ context.Context, vehicleID string) (model.Dispatch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.dispatches {
		if d.VehicleID == vehicleID && d.Active() {
			d.History = append([]model.StatusChange(nil), d.History...)
			return d, true, nil
		}
	}
	return model.Dispatch{}, false, nil
}

func (s *MemoryStore) UpdateDispatch(ctx context.Context, id string, fn func(*model.Dispatch) error) (model.Dispatch, error) {
	if err := s.locks.lock(ctx, "dispatch:"+id, s.lockWait); err != nil {
		return model.Dispatch{}, err
	}
	defer s.locks.unlock("dispatch:" + id)

	s.mu.RLock()
	d, ok := s.dispatches[id]
	s.mu.RUnlock()
	if !ok {
		return model.Dispatch{}, fault.New(fault.KindNotFound, "dispatch %s", id)
	}
	d.History = append([]model.StatusChange(nil), d.History...)
	if err := fn(&d); err != nil {
		return model.Dispatch{}, err
	}
	s.mu.Lock()
	s.dispatches[id] = d
	s.mu.Unlock()
	return d, nil
}

func (s *MemoryStore) AppendSample(_ context.Context, sample model.TrackingSample) error {
	if err := sample.Validate(); err != nil {
		return fault.Wrap(fault.KindValidation, err, "sample")
	}
	s.mu.Lock()
	s.samples[sample.VehicleID] = append(s.samples[sample.VehicleID], sample)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LastSample(_ context.Context, vehicleID string) (model.TrackingSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.samples[vehicleID]
	if len(list) == 0 {
		return model.TrackingSample{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (s *MemoryStore) RecentSamples(_ context.Context, vehicleID string, n int) ([]model.TrackingSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.samples[vehicleID]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]model.TrackingSample, n)
	copy(out, list[len(list)-n:])
	return out, nil
}

func (s *MemoryStore) ActiveZones(context.Context) ([]model.GeofenceZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.GeofenceZone, 0, len(s.zones))
	for _, z := range s.zones {
		if z.Active {
			out = append(out, z)
		}
	}
	return out, nil
}

// PutZone registers or replaces a geofence zone.
func (s *MemoryStore) PutZone(z model.GeofenceZone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.zones {
		if s.zones[i].ID == z.ID {
			s.zones[i] = z
			return
		}
	}
	s.zones = append(s.zones, z)
}

func (s *MemoryStore) FacilityStatuses(context.Context) ([]model.FacilityStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FacilityStatus, 0, len(s.facilities))
	for _, f := range s.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FacilityID < out[j].FacilityID })
	return out, nil
}

func (s *MemoryStore) FacilityStatus(_ context.Context, facilityID string) (model.FacilityStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facilities[facilityID]
	if !ok {
		return model.FacilityStatus{}, fault.New(fault.KindNotFound, "facility %s", facilityID)
	}
	return f, nil
}

// PutFacilityStatus replaces a facility snapshot. Facility staff feed this
// through the facility service.
func (s *MemoryStore) PutFacilityStatus(_ context.Context, f model.FacilityStatus) error {
	if f.FacilityID == "" {
		return fault.New(fault.KindValidation, "facility id must not be empty")
	}
	s.mu.Lock()
	s.facilities[f.FacilityID] = f
	s.mu.Unlock()
	return nil
}
