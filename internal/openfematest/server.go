// Package openfematest serves an in-memory DisasterDeclarationsSummaries
// dataset over HTTP for tests.
package openfematest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
)

const Entity = "DisasterDeclarationsSummaries"

// Override replaces the response of one call; ok=false falls through to the
// dataset.
type Override func(call int, q url.Values) (status int, body string, ok bool)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	items    []map[string]any
	count    bool
	override Override
	queries  []url.Values
}

// NewServer starts a server holding items. It is closed when t finishes.
func NewServer(t testing.TB, items []map[string]any) *Server {
	t.Helper()
	s := &Server{items: items, count: true}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value for source.base_url.
func (s *Server) BaseURL() string { return s.URL + "/api/open" }

// SetItems replaces the dataset.
func (s *Server) SetItems(items []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// ReportCount toggles metadata.count in responses.
func (s *Server) ReportCount(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = on
}

func (s *Server) Override(o Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = o
}

// Queries returns the query of every request received so far.
func (s *Server) Queries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

// Skips returns the $skip value of every request received so far.
func (s *Server) Skips() []int {
	var out []int
	for _, q := range s.Queries() {
		n, _ := strconv.Atoi(q.Get("$skip"))
		out = append(out, n)
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/open/v1/"+Entity {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	s.mu.Lock()
	call := len(s.queries)
	s.queries = append(s.queries, q)
	items, count, override := s.items, s.count, s.override
	s.mu.Unlock()

	if override != nil {
		if status, body, ok := override(call, q); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
	}

	top, err := strconv.Atoi(q.Get("$top"))
	if err != nil || top <= 0 {
		http.Error(w, "bad $top", http.StatusBadRequest)
		return
	}
	skip, err := strconv.Atoi(q.Get("$skip"))
	if err != nil || skip < 0 {
		http.Error(w, "bad $skip", http.StatusBadRequest)
		return
	}
	from := min(skip, len(items))
	to := min(skip+top, len(items))

	page := append([]map[string]any{}, items[from:to]...)
	resp := map[string]any{Entity: page}
	md := map[string]any{"skip": skip, "top": top, "filter": q.Get("$filter")}
	if count && q.Get("$inlinecount") == "allpages" {
		md["count"] = len(items)
	}
	resp["metadata"] = md

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Item returns a complete declaration with the given id and county area.
// n seeds the disaster number.
func Item(n int, area string) map[string]any {
	return map[string]any{
		"id":                 fmt.Sprintf("id-%04d", n),
		"disasterNumber":     4000 + n,
		"state":              "TX",
		"declarationDate":    "2024-05-01T00:00:00.000Z",
		"incidentType":       "Flood",
		"title":              fmt.Sprintf("SEVERE STORMS %d", n),
		"incidentBeginDate":  "2024-04-28T00:00:00.000Z",
		"incidentEndDate":    "2024-05-03T00:00:00.000Z",
		"declaredCountyArea": area,
		"lastRefresh":        "2024-06-01T12:00:00.000Z",
	}
}

// Items returns n declarations with ids id-0000..id-(n-1), all in counties.
func Items(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := range n {
		out = append(out, Item(i, fmt.Sprintf("County%d (County)", i)))
	}
	return out
}
