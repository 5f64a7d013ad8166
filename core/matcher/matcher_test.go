package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/routing"
)

type fakeFacilityStore struct {
	statuses []model.FacilityStatus
	err      error
}

func (f *fakeFacilityStore) FacilityStatuses(context.Context) ([]model.FacilityStatus, error) {
	return f.statuses, f.err
}

func (f *fakeFacilityStore) FacilityStatus(_ context.Context, id string) (model.FacilityStatus, error) {
	for _, s := range f.statuses {
		if s.FacilityID == id {
			return s, nil
		}
	}
	return model.FacilityStatus{}, errors.New("not found")
}

// vehicleAt is roughly the origin used by all tests; facilities are placed by
// latitude offset (1 deg lat ~ 111 km).
var vehicleAt = geo.Point{Lat: 40.0, Lon: -74.0}

func facilityAtKm(id string, km float64) model.FacilityStatus {
	return model.FacilityStatus{
		FacilityID:  id,
		Name:        id,
		Position:    geo.Point{Lat: 40.0 + km/111.0, Lon: -74.0},
		EDStatus:    model.EDNormal,
		EDAccepting: true,
	}
}

func TestMatch_FiltersIneligible(t *testing.T) {
	diverting := facilityAtKm("f-divert", 1)
	diverting.Diversion = true
	closed := facilityAtKm("f-closed", 1)
	closed.EDStatus = model.EDClosed
	notAccepting := facilityAtKm("f-noaccept", 1)
	notAccepting.EDAccepting = false
	noBeds := facilityAtKm("f-nobeds", 1)
	noBeds.Beds = map[model.BedType]model.BedCapacity{model.BedICU: {Total: 4, Occupied: 4, Available: 0}}
	ok := facilityAtKm("f-ok", 2)
	ok.Beds = map[model.BedType]model.BedCapacity{model.BedICU: {Total: 4, Occupied: 1, Available: 3}}

	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{diverting, closed, notAccepting, noBeds, ok}},
		Weights{}, routing.Estimator{}, nil)

	got, err := m.Match(context.Background(), Request{
		Position:        vehicleAt,
		RequiredBedType: model.BedICU,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f-ok", got[0].Facility.FacilityID)
}

func TestMatch_CriticalPrefersCloseNormalED(t *testing.T) {
	near := facilityAtKm("f-near", 2) // normal ED, no wait
	far := facilityAtKm("f-far", 20)
	far.EDStatus = model.EDBusy
	far.WaitMinutes = 15

	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{far, near}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt, Urgent: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f-near", got[0].Facility.FacilityID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestMatch_ScoreFormula(t *testing.T) {
	f := facilityAtKm("f1", 5)
	f.WaitMinutes = 10
	f.Beds = map[model.BedType]model.BedCapacity{model.BedGeneral: {Total: 10, Occupied: 5, Available: 5}}

	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{f}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt})
	require.NoError(t, err)
	require.Len(t, got, 1)

	d := got[0].DistanceKm
	want := 100 - d*2 - 10*0.5 + 20 + 50*0.3
	assert.InDelta(t, want, got[0].Score, 0.01)
}

func TestMatch_DistancePenaltyCapped(t *testing.T) {
	far := facilityAtKm("f-far", 100)
	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{far}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt})
	require.NoError(t, err)
	require.Len(t, got, 1)
	// 100 - 30 (capped) + 20 (normal ED)
	assert.InDelta(t, 90, got[0].Score, 0.5)
}

func TestMatch_UrgentProximityBonus(t *testing.T) {
	f := facilityAtKm("f1", 5)
	store := &fakeFacilityStore{statuses: []model.FacilityStatus{f}}

	routine, err := New(store, Weights{}, routing.Estimator{}, nil).Match(context.Background(),
		Request{Position: vehicleAt})
	require.NoError(t, err)
	urgent, err := New(store, Weights{}, routing.Estimator{}, nil).Match(context.Background(),
		Request{Position: vehicleAt, Urgent: true})
	require.NoError(t, err)
	assert.InDelta(t, 30, urgent[0].Score-routine[0].Score, 0.01)
}

func TestMatch_TieBreakByDistanceThenID(t *testing.T) {
	// Two identical facilities at the same distance: ID decides.
	a := facilityAtKm("fb", 3)
	b := facilityAtKm("fa", 3)
	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{a, b}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fa", got[0].Facility.FacilityID)
}

func TestMatch_MaxDistance(t *testing.T) {
	near := facilityAtKm("f-near", 2)
	far := facilityAtKm("f-far", 50)
	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{near, far}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt, MaxDistanceKm: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f-near", got[0].Facility.FacilityID)
}

func TestMatch_EmptyResultIsNotAnError(t *testing.T) {
	divert := facilityAtKm("f1", 1)
	divert.Diversion = true
	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{divert}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatch_SpecialtyFilter(t *testing.T) {
	burn := facilityAtKm("f-burn", 8)
	burn.Specialties = []string{"burn_unit"}
	plain := facilityAtKm("f-plain", 2)

	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{burn, plain}}, Weights{}, routing.Estimator{}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt, RequiredSpecialty: "burn_unit"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f-burn", got[0].Facility.FacilityID)
}

type timeoutProvider struct{}

func (timeoutProvider) Route(ctx context.Context, _, _ geo.Point) (routing.Route, error) {
	<-ctx.Done()
	return routing.Route{}, ctx.Err()
}

func TestMatch_RoutingTimeoutStillRanks(t *testing.T) {
	f := facilityAtKm("f1", 5)
	m := New(&fakeFacilityStore{statuses: []model.FacilityStatus{f}}, Weights{},
		routing.Estimator{Provider: timeoutProvider{}, Timeout: 10 * time.Millisecond}, nil)
	got, err := m.Match(context.Background(), Request{Position: vehicleAt})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Route)
}
