package layout

import (
	"strings"

	"fleetgrid/internal/model"
)

// FilterMode restricts the resource list to booked or available rows.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterBooked    FilterMode = "booked"
	FilterAvailable FilterMode = "available"
)

// FilterResources applies the booked/available filter and a
// case-insensitive substring search over title and subtitle. The two
// compose with logical AND.
func FilterResources(resources []model.Resource, plan Plan, mode FilterMode, query string) []model.Resource {
	query = strings.ToLower(strings.TrimSpace(query))

	var out []model.Resource
	for _, r := range resources {
		switch mode {
		case FilterBooked:
			if !plan.ActiveResources[r.ID] {
				continue
			}
		case FilterAvailable:
			if plan.ActiveResources[r.ID] {
				continue
			}
		}

		if query != "" && !matchesQuery(r, query) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesQuery(r model.Resource, query string) bool {
	return strings.Contains(strings.ToLower(r.Title), query) ||
		strings.Contains(strings.ToLower(r.Subtitle), query)
}
