package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/tracking"
	"github.com/emsgo/dispatch/infra/store"
)

// NewLocationHandler ingests one GPS fix. A stale fix answers 202 with
// stale=true so units don't retry it.
func NewLocationHandler(svc *tracking.Service, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in tracking.SampleInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeFault(w, fault.Wrap(fault.KindValidation, err, "decode location"))
			return
		}
		res, err := svc.Ingest(r.Context(), in)
		if err != nil {
			writeFault(w, err)
			return
		}
		if res.Stale {
			writeJSON(w, http.StatusAccepted, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// NewVehicleStatusHandler serves the live fleet snapshot.
func NewVehicleStatusHandler(svc *tracking.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vehicles, err := svc.VehicleStatuses(r.Context())
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, vehicles)
	})
}

// NewTrackingHistoryHandler serves archived tracking samples via
// GET /api/tracking/history.
func NewTrackingHistoryHandler(archive *store.Archive) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := store.ArchiveQuery{
			VehicleID:  r.URL.Query().Get("vehicle_id"),
			DispatchID: r.URL.Query().Get("dispatch_id"),
		}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		samples, err := archive.QuerySamples(r.Context(), q)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, samples)
	})
}
