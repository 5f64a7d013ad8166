// Package matcher ranks destination facilities for a patient given the
// vehicle position, facility capacity snapshots and urgency. An empty result
// is a normal outcome, not an error: callers report "no destination
// available" to the dispatcher.
package matcher

import (
	"context"
	"sort"

	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/routing"
	"github.com/emsgo/dispatch/core/store"
)

// Weights holds the scoring coefficients. They are policy parameters, not
// domain law; Default mirrors the calibration the dispatch center runs today.
type Weights struct {
	Base                 float64 `json:"base"`
	DistancePenaltyPerKm float64 `json:"distance_penalty_per_km"`
	DistancePenaltyMax   float64 `json:"distance_penalty_max"`
	WaitPenaltyPerMin    float64 `json:"wait_penalty_per_min"`
	EDNormalBonus        float64 `json:"ed_normal_bonus"`
	EDBusyPenalty        float64 `json:"ed_busy_penalty"`
	EDCriticalPenalty    float64 `json:"ed_critical_penalty"`
	AvailabilityWeight   float64 `json:"availability_weight"`
	UrgentProximityBonus float64 `json:"urgent_proximity_bonus"`
	UrgentProximityKm    float64 `json:"urgent_proximity_km"`
}

// Default returns the production scoring coefficients.
func Default() Weights {
	return Weights{
		Base:                 100,
		DistancePenaltyPerKm: 2,
		DistancePenaltyMax:   30,
		WaitPenaltyPerMin:    0.5,
		EDNormalBonus:        20,
		EDBusyPenalty:        10,
		EDCriticalPenalty:    25,
		AvailabilityWeight:   0.3,
		UrgentProximityBonus: 30,
		UrgentProximityKm:    10,
	}
}

// Request describes one matching query.
type Request struct {
	Position          geo.Point
	Urgent            bool
	ConditionTags     []string
	RequiredBedType   model.BedType // empty means no bed requirement
	RequiredSpecialty string        // empty means no specialty requirement
	MaxDistanceKm     float64       // zero means unlimited
}

// Ranked is one eligible facility with its score and distance.
type Ranked struct {
	Facility   model.FacilityStatus `json:"facility"`
	Score      float64              `json:"score"`
	DistanceKm float64              `json:"distance_km"`
	Route      *routing.Route       `json:"route,omitempty"`
}

// Matcher scores and ranks facilities.
type Matcher struct {
	facilities store.FacilityStore
	weights    Weights
	estimator  routing.Estimator
	log        logger.Logger
}

// New creates a Matcher. Zero-valued weights are replaced by Default.
func New(facilities store.FacilityStore, w Weights, est routing.Estimator, log logger.Logger) *Matcher {
	if w == (Weights{}) {
		w = Default()
	}
	return &Matcher{facilities: facilities, weights: w, estimator: est, log: log}
}

// Match returns eligible facilities sorted by descending score, ties broken
// by ascending distance then facility ID. Routing-provider failures degrade
// to the straight-line estimate and never surface to the caller.
func (m *Matcher) Match(ctx context.Context, req Request) ([]Ranked, error) {
	statuses, err := m.facilities.FacilityStatuses(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Ranked, 0, len(statuses))
	for _, f := range statuses {
		if !m.eligible(f, req) {
			continue
		}
		d := geo.DistanceKm(req.Position, f.Position)
		if req.MaxDistanceKm > 0 && d > req.MaxDistanceKm {
			continue
		}
		out = append(out, Ranked{
			Facility:   f,
			DistanceKm: d,
			Score:      m.score(f, d, req.Urgent),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Facility.FacilityID < out[j].Facility.FacilityID
	})

	// Enrich the leading candidate with a provider route when one answers in
	// time; the ranking itself never waits on more than one call.
	if len(out) > 0 && m.estimator.Provider != nil {
		if r, ok := m.estimator.Estimate(ctx, req.Position, out[0].Facility.Position, 0); ok {
			out[0].Route = &r
		} else if m.log != nil {
			m.log.Debugf("matcher: routing provider unavailable, serving straight-line distance")
		}
	}
	return out, nil
}

func (m *Matcher) eligible(f model.FacilityStatus, req Request) bool {
	if f.Diversion {
		return false
	}
	if f.EDStatus == model.EDClosed || !f.EDAccepting {
		return false
	}
	if req.RequiredBedType != "" {
		if f.Beds[req.RequiredBedType].Available <= 0 {
			return false
		}
	}
	if req.RequiredSpecialty != "" && !f.HasSpecialty(req.RequiredSpecialty) {
		return false
	}
	return true
}

func (m *Matcher) score(f model.FacilityStatus, distanceKm float64, urgent bool) float64 {
	w := m.weights
	score := w.Base

	penalty := distanceKm * w.DistancePenaltyPerKm
	if penalty > w.DistancePenaltyMax {
		penalty = w.DistancePenaltyMax
	}
	score -= penalty

	score -= f.WaitMinutes * w.WaitPenaltyPerMin

	switch f.EDStatus {
	case model.EDNormal:
		score += w.EDNormalBonus
	case model.EDBusy:
		score -= w.EDBusyPenalty
	case model.EDCritical:
		score -= w.EDCriticalPenalty
	}

	score += f.AvgBedAvailabilityRate() * w.AvailabilityWeight

	if urgent && distanceKm < w.UrgentProximityKm {
		score += w.UrgentProximityBonus
	}

	if score < 0 {
		score = 0
	}
	return score
}
