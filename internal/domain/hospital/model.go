package hospital

import (
	"time"

	"github.com/google/uuid"
)

// Readiness states reported by hospital staff.
const (
	ReadinessNormal = "normal"
	ReadinessBusy   = "busy"
	ReadinessFull   = "full"
)

// Snapshot holds the capacity fields hospital staff maintain. Every field is
// optional so the same type serves both the canonical snapshot and the sparse
// live delta layered on top of it.
type Snapshot struct {
	Latitude           *float64 `json:"latitude,omitempty"`
	Longitude          *float64 `json:"longitude,omitempty"`
	TotalBeds          *int     `json:"total_beds,omitempty"`
	AvailableBeds      *int     `json:"available_beds,omitempty"`
	ICUBeds            *int     `json:"icu_beds,omitempty"`
	AvailableICUBeds   *int     `json:"available_icu_beds,omitempty"`
	Specialists        []string `json:"specialists,omitempty"`
	Equipment          []string `json:"equipment,omitempty"`
	AcceptedCategories []string `json:"accepted_categories,omitempty"`
	Readiness          *string  `json:"readiness,omitempty"`
}

// Profile maps to the hospital_profile table. Canonical is the full snapshot;
// Live is a sparse delta written by rapid status updates. Consumers never read
// the two layers directly, only the merge produced by Effective.
type Profile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Canonical Snapshot  `db:"canonical" json:"canonical"`
	Live      Snapshot  `db:"live" json:"live"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveProfile is the single-layer view of a hospital, resolved once at
// read time. The ranker and the dispatch core only ever see this type.
type EffectiveProfile struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Latitude           *float64  `json:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude,omitempty"`
	TotalBeds          *int      `json:"total_beds,omitempty"`
	AvailableBeds      *int      `json:"available_beds,omitempty"`
	ICUBeds            *int      `json:"icu_beds,omitempty"`
	AvailableICUBeds   *int      `json:"available_icu_beds,omitempty"`
	Specialists        []string  `json:"specialists,omitempty"`
	Equipment          []string  `json:"equipment,omitempty"`
	AcceptedCategories []string  `json:"accepted_categories,omitempty"`
	Readiness          string    `json:"readiness,omitempty"`
}

// Effective merges the live delta over the canonical snapshot, field by
// field. A live field set to a value wins; an absent live field falls back to
// the canonical one.
func (p *Profile) Effective() EffectiveProfile {
	e := EffectiveProfile{
		ID:                 p.ID,
		Name:               p.Name,
		Latitude:           coalesceFloat(p.Live.Latitude, p.Canonical.Latitude),
		Longitude:          coalesceFloat(p.Live.Longitude, p.Canonical.Longitude),
		TotalBeds:          coalesceInt(p.Live.TotalBeds, p.Canonical.TotalBeds),
		AvailableBeds:      coalesceInt(p.Live.AvailableBeds, p.Canonical.AvailableBeds),
		ICUBeds:            coalesceInt(p.Live.ICUBeds, p.Canonical.ICUBeds),
		AvailableICUBeds:   coalesceInt(p.Live.AvailableICUBeds, p.Canonical.AvailableICUBeds),
		Specialists:        coalesceStrings(p.Live.Specialists, p.Canonical.Specialists),
		Equipment:          coalesceStrings(p.Live.Equipment, p.Canonical.Equipment),
		AcceptedCategories: coalesceStrings(p.Live.AcceptedCategories, p.Canonical.AcceptedCategories),
	}
	if p.Live.Readiness != nil {
		e.Readiness = *p.Live.Readiness
	} else if p.Canonical.Readiness != nil {
		e.Readiness = *p.Canonical.Readiness
	}
	return e
}

// Merge applies the non-nil fields of delta on top of s.
func (s *Snapshot) Merge(delta Snapshot) {
	if delta.Latitude != nil {
		s.Latitude = delta.Latitude
	}
	if delta.Longitude != nil {
		s.Longitude = delta.Longitude
	}
	if delta.TotalBeds != nil {
		s.TotalBeds = delta.TotalBeds
	}
	if delta.AvailableBeds != nil {
		s.AvailableBeds = delta.AvailableBeds
	}
	if delta.ICUBeds != nil {
		s.ICUBeds = delta.ICUBeds
	}
	if delta.AvailableICUBeds != nil {
		s.AvailableICUBeds = delta.AvailableICUBeds
	}
	if delta.Specialists != nil {
		s.Specialists = delta.Specialists
	}
	if delta.Equipment != nil {
		s.Equipment = delta.Equipment
	}
	if delta.AcceptedCategories != nil {
		s.AcceptedCategories = delta.AcceptedCategories
	}
	if delta.Readiness != nil {
		s.Readiness = delta.Readiness
	}
}

func coalesceFloat(live, canonical *float64) *float64 {
	if live != nil {
		return live
	}
	return canonical
}

func coalesceInt(live, canonical *int) *int {
	if live != nil {
		return live
	}
	return canonical
}

func coalesceStrings(live, canonical []string) []string {
	if live != nil {
		return live
	}
	return canonical
}
