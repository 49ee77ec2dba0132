package source

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// lookbackStart is the first day of a window reaching days back from now.
func lookbackStart(now time.Time, days int) time.Time {
	y, m, d := now.UTC().AddDate(0, 0, -days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endDateFilter(since time.Time) string {
	return fmt.Sprintf("incidentEndDate gt '%s'", since.Format(time.DateOnly))
}

// bodyHead reads at most 512 bytes of r for error messages.
func bodyHead(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

// metadataCount extracts metadata.count; ok is false when it is absent.
func metadataCount(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var md struct {
		Count *int `json:"count"`
	}
	if err := json.Unmarshal(raw, &md); err != nil || md.Count == nil {
		return 0, false
	}
	return *md.Count, true
}
