package api

import (
	"encoding/json"
	"net/http"

	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/lifecycle"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/matcher"
	"github.com/emsgo/dispatch/core/model"
)

type dispatchRequestBody struct {
	CaseID        string  `json:"case_id"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	PickupAddress string  `json:"pickup_address"`
	Priority      string  `json:"priority"`
	PatientInfo   string  `json:"patient_info"`
	VehicleID     string  `json:"vehicle_id"` // optional: assign immediately
	AutoAssign    bool    `json:"auto_assign"`
}

// NewDispatchRequestHandler creates a dispatch. With vehicle_id or
// auto_assign set, the dispatch is assigned in the same call.
func NewDispatchRequestHandler(svc *lifecycle.Service, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body dispatchRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFault(w, fault.Wrap(fault.KindValidation, err, "decode dispatch request"))
			return
		}
		who := actor(r)
		d, err := svc.Request(r.Context(), lifecycle.RequestInput{
			CaseID:        body.CaseID,
			Pickup:        geo.Point{Lat: body.Lat, Lon: body.Lon},
			PickupAddress: body.PickupAddress,
			Priority:      model.Priority(body.Priority),
			PatientInfo:   body.PatientInfo,
			Actor:         who,
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		if body.VehicleID != "" || body.AutoAssign {
			assigned, err := svc.Assign(r.Context(), d.ID, body.VehicleID, who)
			if err != nil {
				// The dispatch exists; report it with the assignment failure.
				if log != nil {
					log.Warnf("dispatch %s created but assignment failed: %v", d.Number, err)
				}
				writeJSON(w, http.StatusCreated, map[string]any{
					"dispatch":     d,
					"assign_error": err.Error(),
				})
				return
			}
			d = assigned
		}
		writeJSON(w, http.StatusCreated, d)
	})
}

// NewDispatchGetHandler serves one dispatch record including its history.
func NewDispatchGetHandler(svc *lifecycle.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Dispatch(r.Context(), r.PathValue("id"))
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})
}

type transitionBody struct {
	Target    string `json:"target"`
	VehicleID string `json:"vehicle_id"` // only for target "assigned"
	Note      string `json:"note"`
}

// NewTransitionHandler moves a dispatch through its lifecycle. Target
// "assigned" routes through vehicle assignment; everything else goes to the
// state machine directly.
func NewTransitionHandler(svc *lifecycle.Service, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body transitionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFault(w, fault.Wrap(fault.KindValidation, err, "decode transition"))
			return
		}
		id := r.PathValue("id")
		who := actor(r)

		var (
			d   model.Dispatch
			err error
		)
		if model.DispatchStatus(body.Target) == model.DispatchAssigned {
			d, err = svc.Assign(r.Context(), id, body.VehicleID, who)
		} else {
			d, err = svc.Transition(r.Context(), id, model.DispatchStatus(body.Target), who, body.Note)
		}
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})
}

type matchDestinationBody struct {
	RequiredBedType   string  `json:"required_bed_type"`
	RequiredSpecialty string  `json:"required_specialty"`
	MaxDistanceKm     float64 `json:"max_distance_km"`
	Urgent            bool    `json:"urgent"`
}

// NewMatchDestinationHandler ranks facilities for a dispatch and records the
// best candidate as its destination.
func NewMatchDestinationHandler(svc *lifecycle.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body matchDestinationBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFault(w, fault.Wrap(fault.KindValidation, err, "decode match request"))
			return
		}
		ranked, err := svc.MatchDestination(r.Context(), r.PathValue("id"), matcher.Request{
			RequiredBedType:   model.BedType(body.RequiredBedType),
			RequiredSpecialty: body.RequiredSpecialty,
			MaxDistanceKm:     body.MaxDistanceKm,
			Urgent:            body.Urgent,
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ranked)
	})
}
