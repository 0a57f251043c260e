// Package ranking orders candidate hospitals for a case. It is a pure
// computation: hard disqualifiers first, then a bounded suitability score
// for the survivors. Identical inputs always produce identical output.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ems/ems/internal/domain/hospital"
)

// Disqualification reason codes.
const (
	ReasonReadinessFull       = "readiness_full"
	ReasonCategoryNotAccepted = "category_not_accepted"
	ReasonNoBedCapacity       = "no_bed_capacity"
)

// Score weights. Together they bound the score to [0,100].
const (
	weightDistance   = 35.0
	weightCapacity   = 25.0
	weightSpecialist = 25.0
	weightTypeFit    = 15.0

	// Distance beyond this contributes nothing.
	maxUsefulDistanceKm = 50.0
)

// CaseRequirements is the clinical/location input side of a ranking run.
type CaseRequirements struct {
	EmergencyType       string
	AcuityLevel         int
	Latitude            *float64
	Longitude           *float64
	RequiredSpecialists []string
	RequiredEquipment   []string
}

// Route carries distance and travel time for one hospital, supplied by an
// external routing provider. Missing routes fall back to straight-line
// distance when coordinates exist on both ends.
type Route struct {
	DistanceKm float64
	ETAMinutes float64
}

// RankedHospital is one output row. Disqualified hospitals stay in the list
// with their reasons; ranked hospitals carry a score and the top factors
// behind it.
type RankedHospital struct {
	Hospital                hospital.EffectiveProfile `json:"hospital"`
	Score                   float64                   `json:"score"`
	DistanceKm              *float64                  `json:"distance_km,omitempty"`
	ETAMinutes              *float64                  `json:"eta_minutes,omitempty"`
	Disqualified            bool                      `json:"disqualified"`
	DisqualificationReasons []string                  `json:"disqualification_reasons,omitempty"`
	Reasons                 []string                  `json:"reasons,omitempty"`
}

// Rank evaluates every candidate against the case requirements and returns a
// total order: ranked hospitals by descending score (ties broken by ascending
// ETA, then distance, then hospital id), followed by disqualified hospitals
// in id order. Missing hospital fields degrade the score instead of failing.
func Rank(req CaseRequirements, candidates []hospital.EffectiveProfile, routes map[uuid.UUID]Route) []RankedHospital {
	out := make([]RankedHospital, 0, len(candidates))

	for _, h := range candidates {
		rh := RankedHospital{Hospital: h}
		rh.DistanceKm, rh.ETAMinutes = resolveRoute(req, h, routes)

		if reasons := disqualify(req, h); len(reasons) > 0 {
			rh.Disqualified = true
			rh.DisqualificationReasons = reasons
			out = append(out, rh)
			continue
		}

		rh.Score, rh.Reasons = score(req, h, rh.DistanceKm, rh.ETAMinutes)
		out = append(out, rh)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Disqualified != b.Disqualified {
			return !a.Disqualified
		}
		if a.Disqualified {
			return a.Hospital.ID.String() < b.Hospital.ID.String()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := compareAsc(a.ETAMinutes, b.ETAMinutes); c != 0 {
			return c < 0
		}
		if c := compareAsc(a.DistanceKm, b.DistanceKm); c != 0 {
			return c < 0
		}
		return a.Hospital.ID.String() < b.Hospital.ID.String()
	})

	return out
}

func disqualify(req CaseRequirements, h hospital.EffectiveProfile) []string {
	var reasons []string

	if h.Readiness == hospital.ReadinessFull {
		reasons = append(reasons, ReasonReadinessFull)
	}
	if req.EmergencyType != "" && !containsFold(h.AcceptedCategories, req.EmergencyType) {
		reasons = append(reasons, ReasonCategoryNotAccepted)
	}
	if h.AvailableBeds != nil && *h.AvailableBeds <= 0 {
		reasons = append(reasons, ReasonNoBedCapacity)
	}
	return reasons
}

func score(req CaseRequirements, h hospital.EffectiveProfile, distanceKm, etaMinutes *float64) (float64, []string) {
	type factor struct {
		points float64
		max    float64
		reason string
	}

	factors := []factor{
		{distanceScore(distanceKm), weightDistance, "short travel distance"},
		{capacityScore(req, h), weightCapacity, "bed capacity headroom"},
		{specialistScore(req, h), weightSpecialist, "specialist and equipment coverage"},
		{typeFitScore(req, h), weightTypeFit, fmt.Sprintf("suited for %s cases", req.EmergencyType)},
	}

	total := 0.0
	var reasons []string
	for _, f := range factors {
		total += f.points
		// A factor earning most of its weight is worth surfacing.
		if f.max > 0 && f.points/f.max >= 0.6 {
			reasons = append(reasons, f.reason)
		}
	}
	return math.Min(math.Max(total, 0), 100), reasons
}

// distanceScore rewards proximity linearly up to maxUsefulDistanceKm. An
// unknown distance is worst case.
func distanceScore(distanceKm *float64) float64 {
	if distanceKm == nil {
		return 0
	}
	d := math.Min(*distanceKm, maxUsefulDistanceKm)
	return weightDistance * (1 - d/maxUsefulDistanceKm)
}

// capacityScore rewards free-bed headroom; severe cases additionally need
// ICU availability. Unknown counts are worst case.
func capacityScore(req CaseRequirements, h hospital.EffectiveProfile) float64 {
	if h.AvailableBeds == nil || h.TotalBeds == nil || *h.TotalBeds <= 0 {
		return 0
	}
	ratio := math.Min(float64(*h.AvailableBeds)/float64(*h.TotalBeds), 1)

	if req.AcuityLevel > 0 && req.AcuityLevel <= 2 {
		icu := 0.0
		if h.AvailableICUBeds != nil && *h.AvailableICUBeds > 0 {
			icu = 1.0
		}
		return weightCapacity * (0.6*ratio + 0.4*icu)
	}
	return weightCapacity * ratio
}

// specialistScore is the matched fraction of required specialists and
// equipment. Nothing required earns full points; requirements against an
// empty hospital list earn none.
func specialistScore(req CaseRequirements, h hospital.EffectiveProfile) float64 {
	required := len(req.RequiredSpecialists) + len(req.RequiredEquipment)
	if required == 0 {
		return weightSpecialist
	}
	matched := 0
	for _, s := range req.RequiredSpecialists {
		if containsFold(h.Specialists, s) {
			matched++
		}
	}
	for _, e := range req.RequiredEquipment {
		if containsFold(h.Equipment, e) {
			matched++
		}
	}
	return weightSpecialist * float64(matched) / float64(required)
}

// typeFitScore reflects how well the hospital suits the case class. Category
// acceptance got the hospital past disqualification; critical cases only earn
// full fit when ICU capacity is actually open.
func typeFitScore(req CaseRequirements, h hospital.EffectiveProfile) float64 {
	if req.AcuityLevel > 0 && req.AcuityLevel <= 2 {
		if h.AvailableICUBeds == nil || *h.AvailableICUBeds <= 0 {
			return weightTypeFit * 0.4
		}
	}
	return weightTypeFit
}

func resolveRoute(req CaseRequirements, h hospital.EffectiveProfile, routes map[uuid.UUID]Route) (*float64, *float64) {
	if r, ok := routes[h.ID]; ok {
		d, eta := r.DistanceKm, r.ETAMinutes
		return &d, &eta
	}
	if req.Latitude != nil && req.Longitude != nil && h.Latitude != nil && h.Longitude != nil {
		d := haversineKm(*req.Latitude, *req.Longitude, *h.Latitude, *h.Longitude)
		return &d, nil
	}
	return nil, nil
}

// compareAsc orders two optional values ascending, unknown values last.
func compareAsc(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
