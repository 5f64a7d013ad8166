// Package api exposes the dispatch core over HTTP. Handlers are thin: they
// decode, call the service, and map fault kinds onto status codes. The caller
// role arrives pre-resolved in the X-Caller-Role header and is recorded as
// the actor on mutations; authentication lives upstream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/emsgo/dispatch/core/facility"
	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/lifecycle"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/tracking"
	"github.com/emsgo/dispatch/infra/store"
)

// Deps collects the services the API serves.
type Deps struct {
	Lifecycle  *lifecycle.Service
	Tracking   *tracking.Service
	Matcher    *matcher.Matcher
	Facilities *facility.Service
	Archive    *store.Archive // optional
	WS         http.Handler   // optional
	Log        logger.Logger
}

// NewMux builds the HTTP routing table.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /api/tracking/location", NewLocationHandler(d.Tracking, d.Log))
	mux.Handle("POST /api/dispatches", NewDispatchRequestHandler(d.Lifecycle, d.Log))
	mux.Handle("GET /api/dispatches/{id}", NewDispatchGetHandler(d.Lifecycle))
	mux.Handle("POST /api/dispatches/{id}/transition", NewTransitionHandler(d.Lifecycle, d.Log))
	mux.Handle("POST /api/dispatches/{id}/match", NewMatchDestinationHandler(d.Lifecycle))
	mux.Handle("GET /api/facilities/match", NewFacilityMatchHandler(d.Matcher))
	if d.Facilities != nil {
		mux.Handle("POST /api/facilities/status", NewFacilityStatusHandler(d.Facilities))
	}
	mux.Handle("GET /api/vehicles/status", NewVehicleStatusHandler(d.Tracking))
	if d.Archive != nil {
		mux.Handle("GET /api/tracking/history", NewTrackingHistoryHandler(d.Archive))
	}
	if d.WS != nil {
		mux.Handle("GET /ws", d.WS)
	}
	return mux
}

// actor resolves the acting identity from the pre-authenticated role header.
func actor(r *http.Request) string {
	if role := r.Header.Get("X-Caller-Role"); role != "" {
		return role
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeFault maps a fault kind onto an HTTP status code.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindInvalidTransition:
		status = http.StatusConflict
	case fault.KindBusy:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "1")
	case fault.KindUpstream:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind.String()})
}
