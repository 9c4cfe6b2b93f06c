package cluster

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/VoteCluster/internal/matrix"
	"github.com/TobiSchelling/VoteCluster/internal/roster"
)

// Party buckets counted by DemographicSummary.
const (
	PartyDemocrat = iota
	PartyRepublican
	PartyOther
	partyCount
)

// MemberDirectory looks up entity metadata by entity index.
type MemberDirectory interface {
	Member(index int) (roster.Member, bool)
}

// RegionClassifier assigns states to regions numbered 1..RegionCount(), with
// 0 for unknown.
type RegionClassifier interface {
	RegionCount() int
	Region(state string) int
}

// Profile summarizes the membership of one group.
type Profile struct {
	Members Group
	Parties [partyCount]int
	Regions []int // index 0 counts members with no known region
}

// Count returns the number of members in the group.
func (p Profile) Count() int {
	return len(p.Members)
}

// String describes the profile on one line, e.g. "3 members D:2 R:1 Regions: 1:3".
func (p Profile) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d members", p.Count())
	for i, tag := range []string{"D", "R", "I"} {
		if p.Parties[i] > 0 {
			fmt.Fprintf(&b, " %s:%d", tag, p.Parties[i])
		}
	}
	b.WriteString(" Regions:")
	for r, count := range p.Regions {
		if count > 0 {
			fmt.Fprintf(&b, " %d:%d", r, count)
		}
	}
	return b.String()
}

// InterClusterDistances returns the symmetric matrix of mean distances
// between groups, indexed by position in groups. The mean truncates toward
// zero. An empty partition returns ErrNoGroups.
func InterClusterDistances(m *matrix.Matrix, groups []Group) ([][]int, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}

	out := make([][]int, len(groups))
	for i := range out {
		out[i] = make([]int, len(groups))
	}
	for i := 0; i < len(groups)-1; i++ {
		for j := i + 1; j < len(groups); j++ {
			d := meanDistance(m, groups[i], groups[j])
			out[i][j] = d
			out[j][i] = d
		}
	}
	return out, nil
}

func meanDistance(m *matrix.Matrix, a, b Group) int {
	var total, count int64
	for _, x := range a {
		for _, y := range b {
			total += int64(m.At(x, y))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return int(total / count)
}

// DemographicSummary tallies party and region counts for every group.
// Members missing from the directory count as third party, unknown region.
func DemographicSummary(groups []Group, members MemberDirectory, regions RegionClassifier) []Profile {
	regionCount := regions.RegionCount()
	profiles := make([]Profile, 0, len(groups))
	for _, g := range groups {
		p := Profile{
			Members: g,
			Regions: make([]int, regionCount+1),
		}
		for _, idx := range g {
			m, _ := members.Member(idx)
			p.Parties[partyBucket(m.Party)]++

			r := regions.Region(m.State)
			if r < 0 || r > regionCount {
				r = 0
			}
			p.Regions[r]++
		}
		profiles = append(profiles, p)
	}
	return profiles
}

func partyBucket(party string) int {
	if party == "" {
		return PartyOther
	}
	switch strings.ToUpper(party[:1]) {
	case "D":
		return PartyDemocrat
	case "R":
		return PartyRepublican
	default:
		return PartyOther
	}
}
