package broadcast

import (
	"encoding/json"
	"fmt"
	"slices"

	"telegram-sink/internal/state"
)

// Filter is a subscriber's allow-list. An empty list matches everything.
type Filter struct {
	Regions   []int    `json:"regions"`
	Junctions []int    `json:"junctions"`
	Lines     []uint32 `json:"lines"`
}

// Fits reports whether report passes every non-empty allow-list.
func (f *Filter) Fits(report *state.VehicleReport) bool {
	if f == nil {
		return true
	}
	return (len(f.Regions) == 0 || slices.Contains(f.Regions, report.Region)) &&
		(len(f.Junctions) == 0 || slices.Contains(f.Junctions, report.ReportingPoint)) &&
		(len(f.Lines) == 0 || slices.Contains(f.Lines, report.Line))
}

// ParseFilter decodes an inbound filter message. Missing lists default to
// empty.
func ParseFilter(data []byte) (*Filter, error) {
	var f Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	return &f, nil
}
