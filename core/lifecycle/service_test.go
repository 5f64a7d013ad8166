package lifecycle

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/metrics"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/relay"
	"github.com/emsgo/dispatch/core/routing"
	"github.com/emsgo/dispatch/infra/store"
)

type published struct {
	kind    relay.EventType
	payload any
	topics  []string
}

type capturingRelay struct {
	mu     sync.Mutex
	events []published
}

func (c *capturingRelay) Publish(t relay.EventType, payload any, topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, published{kind: t, payload: payload, topics: topics})
}

func (c *capturingRelay) all() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.events...)
}

type capturingSink struct {
	mu          sync.Mutex
	completions []metrics.DispatchCompletion
}

func (c *capturingSink) RecordDispatchCompletion(rec metrics.DispatchCompletion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, rec)
	return nil
}

func (c *capturingSink) RecordLocation(metrics.LocationPoint) error { return nil }

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	relay *capturingRelay
	sink  *capturingSink
	clock *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	rel := &capturingRelay{}
	sink := &capturingSink{}
	svc, err := NewService(st, rel, nil, sink, nil)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.now)
	return &fixture{svc: svc, store: st, relay: rel, sink: sink, clock: clock}
}

func (f *fixture) seedVehicle(t *testing.T, id string, at geo.Point) {
	t.Helper()
	require.NoError(t, f.store.PutVehicle(context.Background(), model.Vehicle{
		ID: id, Callsign: "A-" + id, Status: model.VehicleAvailable, Active: true,
		Position: &at,
	}))
}

func (f *fixture) request(t *testing.T) model.Dispatch {
	t.Helper()
	d, err := f.svc.Request(context.Background(), RequestInput{
		CaseID:        "case-1",
		Pickup:        geo.Point{Lat: 40.7128, Lon: -74.0060},
		PickupAddress: "350 5th Ave",
		Priority:      model.PriorityUrgent,
		Actor:         "dispatcher-7",
	})
	require.NoError(t, err)
	return d
}

func TestRequest_CreatesDispatch(t *testing.T) {
	f := newFixture(t)
	d := f.request(t)

	assert.Equal(t, model.DispatchRequested, d.Status)
	assert.Regexp(t, regexp.MustCompile(`^DISP-20250601-\d{6}$`), d.Number)
	assert.Equal(t, f.clock.now(), d.Times.RequestedAt)

	evs := f.relay.all()
	require.Len(t, evs, 1)
	assert.Equal(t, relay.EventDispatchStatusChanged, evs[0].kind)
	assert.Equal(t, []string{relay.TopicDispatchCenter}, evs[0].topics)
}

func TestRequest_RejectsBadInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Request(context.Background(), RequestInput{Pickup: geo.Point{Lat: 91, Lon: 0}})
	assert.True(t, fault.Is(err, fault.KindValidation))

	_, err = f.svc.Request(context.Background(), RequestInput{
		Pickup: geo.Point{Lat: 40.7, Lon: -74.0}, Priority: "shrug",
	})
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestAssign_ExplicitVehicle(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)

	got, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)
	assert.Equal(t, model.DispatchAssigned, got.Status)
	assert.Equal(t, "v1", got.VehicleID)
	require.Len(t, got.History, 1)
	assert.Equal(t, model.DispatchRequested, got.History[0].OldStatus)
	assert.Equal(t, model.DispatchAssigned, got.History[0].NewStatus)
}

func TestAssign_AutoSelectsNearestVehicle(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v-far", geo.Point{Lat: 41.5, Lon: -74.0})
	f.seedVehicle(t, "v-near", geo.Point{Lat: 40.72, Lon: -74.0})
	busy := model.Vehicle{ID: "v-busy", Callsign: "A-busy", Status: model.VehicleEnRoute, Active: true,
		Position: &geo.Point{Lat: 40.7128, Lon: -74.006}}
	require.NoError(t, f.store.PutVehicle(context.Background(), busy))
	d := f.request(t)

	got, err := f.svc.Assign(context.Background(), d.ID, "", "dispatcher-7")
	require.NoError(t, err)
	assert.Equal(t, "v-near", got.VehicleID)
}

func TestAssign_NoVehicleAvailable(t *testing.T) {
	f := newFixture(t)
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "", "dispatcher-7")
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestAssign_UnknownVehicle(t *testing.T) {
	f := newFixture(t)
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v-ghost", "dispatcher-7")
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestAssign_MarksVehicleDispatched(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)

	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)

	v, err := f.store.Vehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleDispatched, v.Status)
}

func TestAssign_VehicleCannotBeDoubleBooked(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	first := f.request(t)
	second := f.request(t)

	got, err := f.svc.Assign(context.Background(), first.ID, "", "dispatcher-7")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.VehicleID)

	// Auto-assign finds no candidate once the vehicle is booked.
	_, err = f.svc.Assign(context.Background(), second.ID, "", "dispatcher-7")
	assert.True(t, fault.Is(err, fault.KindNotFound), "got %v", err)

	// Naming the booked vehicle explicitly is rejected too.
	_, err = f.svc.Assign(context.Background(), second.ID, "v1", "dispatcher-7")
	assert.True(t, fault.Is(err, fault.KindValidation), "got %v", err)

	active, ok, err := f.store.ActiveDispatchForVehicle(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)
}

func TestAssign_FailedTransitionReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	f.seedVehicle(t, "v2", geo.Point{Lat: 40.73, Lon: -74.0})
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)

	// The dispatch already carries v1, so assigning v2 must fail and must not
	// leave v2 claimed.
	_, err = f.svc.Assign(context.Background(), d.ID, "v2", "dispatcher-7")
	assert.True(t, fault.Is(err, fault.KindInvalidTransition), "got %v", err)

	v, err := f.store.Vehicle(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.Status)
}

// walk drives the dispatch through the given targets, advancing the clock one
// minute per step.
func (f *fixture) walk(t *testing.T, id string, targets ...model.DispatchStatus) model.Dispatch {
	t.Helper()
	var d model.Dispatch
	var err error
	for _, target := range targets {
		f.clock.advance(time.Minute)
		d, err = f.svc.Transition(context.Background(), id, target, "crew-1", "")
		require.NoError(t, err, string(target))
	}
	return d
}

func TestTransition_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)

	got := f.walk(t, d.ID,
		model.DispatchDispatched,
		model.DispatchEnRoutePickup,
		model.DispatchOnScene,
		model.DispatchPatientLoaded,
		model.DispatchEnRouteDestination,
		model.DispatchAtDestination,
		model.DispatchCompleted,
	)

	assert.Equal(t, model.DispatchCompleted, got.Status)
	assert.Len(t, got.History, 8) // assigned + 7 transitions

	require.NotNil(t, got.ResponseTime)
	assert.Equal(t, 2*time.Minute, *got.ResponseTime) // dispatched -> on_scene
	require.NotNil(t, got.TransportTime)
	assert.Equal(t, 2*time.Minute, *got.TransportTime) // patient_loaded -> at_destination

	// Milestones are strictly ordered.
	assert.True(t, got.Times.DispatchedAt.Before(*got.Times.OnSceneAt))
	assert.True(t, got.Times.OnSceneAt.Before(*got.Times.PatientLoadedAt))
	assert.True(t, got.Times.PatientLoadedAt.Before(*got.Times.AtDestinationAt))
	assert.True(t, got.Times.AtDestinationAt.Before(*got.Times.CompletedAt))

	v, err := f.store.Vehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.Status)

	require.Len(t, f.sink.completions, 1)
	assert.Equal(t, "completed", f.sink.completions[0].FinalStatus)
	assert.InDelta(t, 120, f.sink.completions[0].ResponseTimeSec, 0.001)
}

func TestTransition_InvalidLeavesNoHistory(t *testing.T) {
	f := newFixture(t)
	d := f.request(t)

	_, err := f.svc.Transition(context.Background(), d.ID, model.DispatchOnScene, "crew-1", "")
	assert.True(t, fault.Is(err, fault.KindInvalidTransition))

	got, err := f.svc.Dispatch(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchRequested, got.Status)
	assert.Empty(t, got.History)
}

func TestTransition_ReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)
	f.walk(t, d.ID, model.DispatchDispatched)

	before := len(f.relay.all())
	stampBefore, err := f.svc.Dispatch(context.Background(), d.ID)
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	got, err := f.svc.Transition(context.Background(), d.ID, model.DispatchDispatched, "crew-1", "")
	require.NoError(t, err)

	assert.Equal(t, model.DispatchDispatched, got.Status)
	assert.Len(t, got.History, len(stampBefore.History))
	assert.Equal(t, *stampBefore.Times.DispatchedAt, *got.Times.DispatchedAt)
	assert.Len(t, f.relay.all(), before)
}

func TestTransition_CancelReleasesVehicle(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)
	f.walk(t, d.ID, model.DispatchDispatched, model.DispatchEnRoutePickup)

	got, err := f.svc.Transition(context.Background(), d.ID, model.DispatchCancelled, "dispatcher-7", "caller cancelled")
	require.NoError(t, err)
	assert.Equal(t, model.DispatchCancelled, got.Status)
	assert.Equal(t, "caller cancelled", got.History[len(got.History)-1].Note)

	v, err := f.store.Vehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.Status)

	require.Len(t, f.sink.completions, 1)
	assert.Equal(t, "cancelled", f.sink.completions[0].FinalStatus)
}

func TestTransition_TargetAssignedRejected(t *testing.T) {
	f := newFixture(t)
	d := f.request(t)
	_, err := f.svc.Transition(context.Background(), d.ID, model.DispatchAssigned, "crew-1", "")
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestTransition_PublishesToVehicleAndFacilityTopics(t *testing.T) {
	f := newFixture(t)
	f.seedVehicle(t, "v1", geo.Point{Lat: 40.71, Lon: -74.0})
	d := f.request(t)
	_, err := f.svc.Assign(context.Background(), d.ID, "v1", "dispatcher-7")
	require.NoError(t, err)

	evs := f.relay.all()
	last := evs[len(evs)-1]
	assert.Contains(t, last.topics, relay.TopicDispatchCenter)
	assert.Contains(t, last.topics, relay.VehicleTopic("v1"))
}

func TestTransition_BusyWhenDispatchLocked(t *testing.T) {
	f := newFixture(t)
	f.store.SetLockWait(20 * time.Millisecond)
	d := f.request(t)

	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = f.store.UpdateDispatch(context.Background(), d.ID, func(*model.Dispatch) error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold
	defer close(release)

	_, err := f.svc.Transition(context.Background(), d.ID, model.DispatchCancelled, "dispatcher-7", "")
	assert.True(t, fault.Is(err, fault.KindBusy), "expected Busy, got %v", err)
}

func TestMatchDestination_CommitsBestCandidate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutFacilityStatus(context.Background(), model.FacilityStatus{
		FacilityID: "f-near", Name: "General",
		Position: geo.Point{Lat: 40.72, Lon: -74.0}, EDStatus: model.EDNormal, EDAccepting: true,
	}))
	require.NoError(t, f.store.PutFacilityStatus(context.Background(), model.FacilityStatus{
		FacilityID: "f-far", Name: "Regional",
		Position: geo.Point{Lat: 41.2, Lon: -74.0}, EDStatus: model.EDNormal, EDAccepting: true,
	}))
	m := matcher.New(f.store, matcher.Weights{}, routing.Estimator{}, nil)
	svc, err := NewService(f.store, relay.Nop{}, m, nil, nil)
	require.NoError(t, err)
	svc.SetClock(f.clock.now)

	d, err := svc.Request(context.Background(), RequestInput{
		Pickup: geo.Point{Lat: 40.7128, Lon: -74.0060}, Priority: model.PriorityCritical,
	})
	require.NoError(t, err)

	ranked, err := svc.MatchDestination(context.Background(), d.ID, matcher.Request{})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "f-near", ranked[0].Facility.FacilityID)

	got, err := svc.Dispatch(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "f-near", got.FacilityID)
	require.NotNil(t, got.Destination)
	assert.InDelta(t, 40.72, got.Destination.Lat, 0.0001)
}

func TestMatchDestination_EmptyRankingLeavesDispatchUntouched(t *testing.T) {
	f := newFixture(t)
	m := matcher.New(f.store, matcher.Weights{}, routing.Estimator{}, nil)
	svc, err := NewService(f.store, relay.Nop{}, m, nil, nil)
	require.NoError(t, err)

	d, err := svc.Request(context.Background(), RequestInput{
		Pickup: geo.Point{Lat: 40.7128, Lon: -74.0060},
	})
	require.NoError(t, err)

	ranked, err := svc.MatchDestination(context.Background(), d.ID, matcher.Request{})
	require.NoError(t, err)
	assert.Empty(t, ranked)

	got, err := svc.Dispatch(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FacilityID)
	assert.Nil(t, got.Destination)
}

func TestSelectVehicle_TieBreakByID(t *testing.T) {
	p := geo.Point{Lat: 40.7, Lon: -74.0}
	at := geo.Point{Lat: 40.71, Lon: -74.0}
	vehicles := []model.Vehicle{
		{ID: "vb", Status: model.VehicleAvailable, Active: true, Position: &at},
		{ID: "va", Status: model.VehicleAvailable, Active: true, Position: &at},
	}
	v, ok := SelectVehicle(vehicles, p)
	require.True(t, ok)
	assert.Equal(t, "va", v.ID)
}
