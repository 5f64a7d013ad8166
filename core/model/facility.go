package model

import "github.com/emsgo/dispatch/core/geo"

// EDStatus is the operational state of a facility's emergency department.
type EDStatus string

const (
	EDNormal   EDStatus = "normal"
	EDBusy     EDStatus = "busy"
	EDCritical EDStatus = "critical"
	EDClosed   EDStatus = "closed"
)

// BedType is a bed capacity category.
type BedType string

const (
	BedGeneral   BedType = "general"
	BedICU       BedType = "icu"
	BedEmergency BedType = "emergency"
	BedPediatric BedType = "pediatric"
)

// BedCapacity holds per-category bed counts for a facility.
type BedCapacity struct {
	Total     int `json:"total"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}

// AvailabilityRate returns the available share as a percentage, zero when the
// category has no beds at all.
func (c BedCapacity) AvailabilityRate() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Available) / float64(c.Total) * 100
}

// FacilityStatus is a snapshot of one destination facility. It is maintained
// by facility staff and read-only to this core; the matcher only ranks
// against it.
type FacilityStatus struct {
	FacilityID  string                  `json:"facility_id"`
	Name        string                  `json:"name"`
	Position    geo.Point               `json:"position"`
	Beds        map[BedType]BedCapacity `json:"beds,omitempty"`
	EDStatus    EDStatus                `json:"ed_status"`
	EDAccepting bool                    `json:"ed_accepting"`
	Diversion   bool                    `json:"diversion"`
	WaitMinutes float64                 `json:"wait_minutes"`
	Specialties []string                `json:"specialties,omitempty"`
}

// AvgBedAvailabilityRate averages availability across all bed categories.
func (f FacilityStatus) AvgBedAvailabilityRate() float64 {
	if len(f.Beds) == 0 {
		return 0
	}
	var sum float64
	for _, c := range f.Beds {
		sum += c.AvailabilityRate()
	}
	return sum / float64(len(f.Beds))
}

// HasSpecialty reports whether the facility lists the given specialty.
func (f FacilityStatus) HasSpecialty(s string) bool {
	for _, sp := range f.Specialties {
		if sp == s {
			return true
		}
	}
	return false
}
