// Package report renders a clustering run as markdown.
package report

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/VoteCluster/internal/cluster"
	"github.com/TobiSchelling/VoteCluster/internal/matrix"
	"github.com/TobiSchelling/VoteCluster/internal/region"
	"github.com/TobiSchelling/VoteCluster/internal/roster"
)

// Run is everything the report shows about one clustering run.
type Run struct {
	Label          string
	Entities       int
	NoiseThreshold int
	Merges         int
	Profiles       []cluster.Profile
	// Links is the inter-group distance matrix after the display filter;
	// matrix.NoLink entries are left out of the report.
	Links  [][]int
	Roster *roster.Roster
}

// Build renders the report body.
func Build(run Run) string {
	var sections []string
	sections = append(sections, header(run))

	if len(run.Profiles) == 0 {
		sections = append(sections, "No groups formed.")
		return strings.Join(sections, "\n\n")
	}

	for i, p := range run.Profiles {
		sections = append(sections, groupSection(i, p, run.Roster))
	}
	sections = append(sections, linkSection(run.Links))

	return strings.Join(sections, "\n\n---\n\n")
}

func header(run Run) string {
	title := run.Label
	if title == "" {
		title = "Clustering run"
	}
	return fmt.Sprintf("# %s\n\n%d entities formed %d groups after %d merges (noise threshold %d).",
		title, run.Entities, len(run.Profiles), run.Merges, run.NoiseThreshold)
}

func groupSection(index int, p cluster.Profile, r *roster.Roster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Group %d\n\n", index)
	fmt.Fprintf(&b, "%d members: %d Democrat, %d Republican, %d other\n\n",
		p.Count(), p.Parties[cluster.PartyDemocrat], p.Parties[cluster.PartyRepublican], p.Parties[cluster.PartyOther])

	var regions []string
	for reg, count := range p.Regions {
		if count > 0 {
			regions = append(regions, fmt.Sprintf("%s %d", region.Name(reg), count))
		}
	}
	if len(regions) > 0 {
		fmt.Fprintf(&b, "**Regions:** %s\n\n", strings.Join(regions, ", "))
	}

	var members []string
	for _, e := range p.Members {
		members = append(members, "- "+r.Label(e))
	}
	b.WriteString(strings.Join(members, "\n"))
	return b.String()
}

func linkSection(links [][]int) string {
	var lines []string
	for i := range links {
		for j := 0; j < i && j < len(links[i]); j++ {
			d := links[i][j]
			if d == matrix.NoLink {
				continue
			}
			lines = append(lines, fmt.Sprintf("| %d | %d | %d |", j, i, d))
		}
	}
	if len(lines) == 0 {
		return "## Links\n\nNo group pairs fall within the display limit."
	}
	return "## Links\n\n| Group | Group | Mean distance |\n|---|---|---|\n" + strings.Join(lines, "\n")
}
