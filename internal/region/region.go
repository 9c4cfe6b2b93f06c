// Package region sorts US states and territories into four broad regions.
package region

import "strings"

// Regions are numbered from 1; 0 means the state is unknown.
const (
	Unknown = iota
	Northeast
	South
	Plains
	West
)

var names = map[int]string{
	Unknown:   "Unknown",
	Northeast: "Northeast",
	South:     "South",
	Plains:    "Plains",
	West:      "West",
}

var stateRegions = map[string]int{
	"AL": South, "AK": West, "AZ": West, "AR": South, "CA": West,
	"CO": Plains, "CT": Northeast, "DE": Northeast, "DC": Northeast, "FL": South,
	"GA": South, "HI": West, "ID": Plains, "IL": Northeast, "IN": Northeast,
	"IA": Plains, "KS": Plains, "KY": South, "LA": South, "ME": Northeast,
	"MD": Northeast, "MA": Northeast, "MI": Northeast, "MN": Plains, "MS": South,
	"MO": Plains, "MT": Plains, "NE": Plains, "NV": Plains, "NH": Northeast,
	"NJ": Northeast, "NM": Plains, "NY": Northeast, "NC": South, "ND": Plains,
	"OH": Northeast, "OK": Plains, "OR": West, "PA": Northeast, "RI": Northeast,
	"SC": South, "SD": Plains, "TN": South, "TX": South, "UT": Plains,
	"VT": Northeast, "VA": South, "WA": West, "WV": Northeast, "WI": Plains,
	"WY": Plains, "GU": West, "VI": South, "AS": West, "PR": South,
	"MP": West,
}

// Mapper classifies state abbreviations into regions.
type Mapper struct {
	regions map[string]int
	count   int
}

// NewMapper returns a Mapper over the built-in state table.
func NewMapper() *Mapper {
	return newMapper(stateRegions)
}

func newMapper(table map[string]int) *Mapper {
	count := 0
	for _, r := range table {
		count = max(count, r)
	}
	return &Mapper{regions: table, count: count}
}

// RegionCount returns the number of defined regions.
func (m *Mapper) RegionCount() int {
	return m.count
}

// Region returns the region of a two-letter state abbreviation, or Unknown.
func (m *Mapper) Region(state string) int {
	return m.regions[strings.ToUpper(strings.TrimSpace(state))]
}

// Name returns a display name for a region number.
func Name(region int) string {
	if n, ok := names[region]; ok {
		return n
	}
	return names[Unknown]
}
