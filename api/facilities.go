package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/emsgo/dispatch/core/facility"
	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/model"
)

// NewFacilityMatchHandler ranks facilities for an arbitrary position without
// touching any dispatch, e.g. for a dispatcher previewing options.
func NewFacilityMatchHandler(m *matcher.Matcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			writeFault(w, fault.New(fault.KindValidation, "lat and lon query parameters are required"))
			return
		}
		req := matcher.Request{
			Position:          geo.Point{Lat: lat, Lon: lon},
			Urgent:            q.Get("urgent") == "true",
			RequiredBedType:   model.BedType(q.Get("bed_type")),
			RequiredSpecialty: q.Get("specialty"),
		}
		if s := q.Get("max_distance_km"); s != "" {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				req.MaxDistanceKm = v
			}
		}
		ranked, err := m.Match(r.Context(), req)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ranked)
	})
}

// NewFacilityStatusHandler upserts a facility snapshot from facility staff
// systems. Degrading conditions raise a capacity alert on the relay.
func NewFacilityStatusHandler(svc *facility.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var fs model.FacilityStatus
		if err := json.NewDecoder(r.Body).Decode(&fs); err != nil {
			writeFault(w, fault.New(fault.KindValidation, "invalid facility status payload: %v", err))
			return
		}
		got, err := svc.UpdateStatus(r.Context(), fs)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, got)
	})
}
