// Package normalize turns validated wire declarations into storable rows.
package normalize

import (
	"strings"
	"time"

	"github.com/galois26/disaster-ingester/internal/model"
)

// CountySuffix marks a declared area that is a county.
const CountySuffix = " (County)"

// County returns the county name for a declared area of the form
// "<name> (County)". Any other shape (parishes, boroughs, statewide, null)
// yields nil.
func County(area *string) *string {
	if area == nil {
		return nil
	}
	name, ok := strings.CutSuffix(*area, CountySuffix)
	if !ok {
		return nil
	}
	return &name
}

// Day returns midnight UTC of t's wall-clock date in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Disaster(d model.Declaration) model.Disaster {
	out := model.Disaster{
		DisasterNumber:    d.DisasterNumber,
		State:             strings.ToUpper(strings.TrimSpace(d.State)),
		DeclarationDate:   Day(d.DeclarationDate),
		IncidentType:      strings.TrimSpace(d.IncidentType),
		Title:             strings.TrimSpace(d.Title),
		IncidentBeginDate: Day(d.IncidentBeginDate),
		County:            County(d.DeclaredCountyArea),
		LastRefresh:       Day(d.LastRefresh),
		FEMAID:            d.ID,
	}
	if d.IncidentEndDate != nil {
		end := Day(*d.IncidentEndDate)
		out.IncidentEndDate = &end
	}
	return out
}
