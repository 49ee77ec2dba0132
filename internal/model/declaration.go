package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrNullField    = errors.New("null field")
	ErrBadField     = errors.New("bad field value")
)

// Field names of a declaration on the wire, in $select order.
const (
	FieldID                 = "id"
	FieldDisasterNumber     = "disasterNumber"
	FieldState              = "state"
	FieldDeclarationDate    = "declarationDate"
	FieldIncidentType       = "incidentType"
	FieldTitle              = "title"
	FieldIncidentBeginDate  = "incidentBeginDate"
	FieldIncidentEndDate    = "incidentEndDate"
	FieldDeclaredCountyArea = "declaredCountyArea"
	FieldLastRefresh        = "lastRefresh"
)

// Fields lists every key a declaration must carry.
var Fields = []string{
	FieldID,
	FieldDisasterNumber,
	FieldState,
	FieldDeclarationDate,
	FieldIncidentType,
	FieldTitle,
	FieldIncidentBeginDate,
	FieldIncidentEndDate,
	FieldDeclaredCountyArea,
	FieldLastRefresh,
}

// These keys must be present but may hold null.
var nullable = map[string]bool{
	FieldIncidentEndDate:    true,
	FieldDeclaredCountyArea: true,
}

// Declaration is one item of a DisasterDeclarationsSummaries page, checked
// for completeness when it is decoded.
type Declaration struct {
	ID                 string
	DisasterNumber     int
	State              string
	DeclarationDate    time.Time
	IncidentType       string
	Title              string
	IncidentBeginDate  time.Time
	IncidentEndDate    *time.Time
	DeclaredCountyArea *string
	LastRefresh        time.Time
}

type wireDeclaration struct {
	ID                 string  `json:"id"`
	DisasterNumber     int     `json:"disasterNumber"`
	State              string  `json:"state"`
	DeclarationDate    string  `json:"declarationDate"`
	IncidentType       string  `json:"incidentType"`
	Title              string  `json:"title"`
	IncidentBeginDate  string  `json:"incidentBeginDate"`
	IncidentEndDate    *string `json:"incidentEndDate"`
	DeclaredCountyArea *string `json:"declaredCountyArea"`
	LastRefresh        string  `json:"lastRefresh"`
}

func (d *Declaration) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range Fields {
		v, ok := raw[k]
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingField, k)
		}
		if !nullable[k] && string(v) == "null" {
			return fmt.Errorf("%w %q", ErrNullField, k)
		}
	}

	var w wireDeclaration
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrBadField, err)
	}

	out := Declaration{
		ID:                 strings.TrimSpace(w.ID),
		DisasterNumber:     w.DisasterNumber,
		State:              w.State,
		IncidentType:       w.IncidentType,
		Title:              w.Title,
		DeclaredCountyArea: w.DeclaredCountyArea,
	}
	if out.ID == "" {
		return fmt.Errorf("%w %q: empty", ErrBadField, FieldID)
	}
	var err error
	if out.DeclarationDate, err = parseField(FieldDeclarationDate, w.DeclarationDate); err != nil {
		return err
	}
	if out.IncidentBeginDate, err = parseField(FieldIncidentBeginDate, w.IncidentBeginDate); err != nil {
		return err
	}
	if out.LastRefresh, err = parseField(FieldLastRefresh, w.LastRefresh); err != nil {
		return err
	}
	if w.IncidentEndDate != nil {
		t, err := parseField(FieldIncidentEndDate, *w.IncidentEndDate)
		if err != nil {
			return err
		}
		out.IncidentEndDate = &t
	}
	*d = out
	return nil
}

func parseField(name, s string) (time.Time, error) {
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrBadField, name, err)
	}
	return t, nil
}

// ParseDate accepts the API's RFC 3339 timestamps ("2017-08-25T00:00:00.000Z")
// and bare dates. An explicit offset is kept so the calendar day stays the
// one the API wrote.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time: %q", s)
}
