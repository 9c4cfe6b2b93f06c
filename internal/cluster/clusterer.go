// Package cluster groups entities whose pairwise dissimilarity is small using
// complete-link agglomerative clustering.
//
// Clustering collapses noise-level differences between near-identical records
// and shrinks the number of nodes a force-directed layout has to place.
package cluster

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/TobiSchelling/VoteCluster/internal/matrix"
)

const (
	DefaultNoiseThreshold = 100
	DefaultMinGroups      = 1
)

var (
	ErrEmptyMatrix    = errors.New("dissimilarity matrix is empty")
	ErrDistanceShrunk = errors.New("cluster distance decreased")
	ErrOneSidedPair   = errors.New("distance recorded for only one side of a merge")
	ErrNoGroups       = errors.New("no groups to summarize")
)

// Group is the ascending list of entity indices in one cluster.
type Group []int

// Merge records one step of the merge loop.
type Merge struct {
	Survivor  int // lower cluster id, which keeps the merged members
	Absorbed  int // cluster id emptied by the merge
	Distance  int
	Remaining int // live clusters after the merge
}

// Result holds the outcome of a clustering run.
type Result struct {
	Groups      []Group
	Merges      []Merge
	Diagnostics []error
}

// Options tunes a clustering run.
type Options struct {
	// NoiseThreshold is the largest distance still merged.
	NoiseThreshold int
	// MinGroups stops merging once this many clusters remain.
	MinGroups int
	// Trace, when set, receives the distance table after setup and after
	// every merge, plus the final groups.
	Trace io.Writer
	// Label names entities in trace output.
	Label func(entity int) string
	// OnMerge is called after every merge.
	OnMerge func(Merge)
}

// DefaultOptions returns the standard threshold with no group floor.
func DefaultOptions() Options {
	return Options{
		NoiseThreshold: DefaultNoiseThreshold,
		MinGroups:      DefaultMinGroups,
	}
}

// Clusterer runs complete-link clustering over dissimilarity matrices.
type Clusterer struct {
	opts   Options
	logger *zap.Logger
}

// NewClusterer creates a new clusterer.
func NewClusterer(logger *zap.Logger, opts Options) *Clusterer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinGroups < 1 {
		opts.MinGroups = DefaultMinGroups
	}
	if opts.Label == nil {
		opts.Label = func(entity int) string { return fmt.Sprint(entity) }
	}
	return &Clusterer{opts: opts, logger: logger}
}

// FormClusters partitions the entities of m. Every entity starts as its own
// cluster; the closest pair is merged until the closest distance exceeds the
// noise threshold or only MinGroups clusters remain. The distance between two
// clusters is the largest distance between their members.
//
// An empty matrix returns ErrEmptyMatrix and an empty result. Other anomalies
// are logged, recorded in Result.Diagnostics, and do not stop the run.
func (c *Clusterer) FormClusters(m *matrix.Matrix) (*Result, error) {
	result := &Result{}
	n := m.Size()
	if n == 0 {
		c.logger.Error("grouping failed, dissimilarity matrix is empty")
		return result, ErrEmptyMatrix
	}
	result.Diagnostics = append(result.Diagnostics, m.Warnings()...)

	groups := make([]Group, n)
	for i := range groups {
		groups[i] = Group{i}
	}

	idx := NewDistanceIndex(m, c.logger)
	c.logger.Debug("cluster distances indexed", zap.Int("entities", n), zap.Int("pairs", idx.Len()))
	if c.opts.Trace != nil {
		fmt.Fprintln(c.opts.Trace, "Initial group distances")
		idx.Dump(c.opts.Trace)
	}

	live := n
	for live > c.opts.MinGroups {
		pair, ok := idx.MinimumPair()
		if !ok {
			break
		}
		distance := idx.Distance(pair.Lo, pair.Hi)
		if distance > c.opts.NoiseThreshold {
			break
		}

		// The lower id survives.
		survivor, absorbed := pair.Lo, pair.Hi
		groups[survivor] = mergeGroups(groups[survivor], groups[absorbed])
		groups[absorbed] = nil
		live--

		result.Diagnostics = append(result.Diagnostics, c.reconcile(idx, survivor, absorbed)...)

		step := Merge{Survivor: survivor, Absorbed: absorbed, Distance: distance, Remaining: live}
		result.Merges = append(result.Merges, step)

		if c.opts.Trace != nil {
			fmt.Fprintf(c.opts.Trace, "Merge cluster %d and %d\nNew distances:\n", survivor, absorbed)
			idx.Dump(c.opts.Trace)
		}
		if c.opts.OnMerge != nil {
			c.opts.OnMerge(step)
		}
	}

	result.Groups = slices.DeleteFunc(groups, func(g Group) bool { return len(g) == 0 })

	if c.opts.Trace != nil {
		fmt.Fprintln(c.opts.Trace, "Final groups:")
		c.dumpGroups(c.opts.Trace, result.Groups)
	}

	c.logger.Debug("clustering complete",
		zap.Int("entities", n),
		zap.Int("groups", len(result.Groups)),
		zap.Int("merges", len(result.Merges)),
		zap.Int("diagnostics", len(result.Diagnostics)))

	return result, nil
}

// reconcile folds the absorbed cluster's distances into the survivor's. For
// every other cluster the survivor keeps the larger of the two distances.
// Data present on only one side means the index was corrupted; that side is
// erased so the cluster can no longer merge with the survivor.
func (c *Clusterer) reconcile(idx *DistanceIndex, survivor, absorbed int) []error {
	var diags []error
	idx.Erase(survivor, absorbed)

	for other := 0; other < idx.ClusterIDUpperBound(); other++ {
		if other == survivor || other == absorbed {
			continue
		}
		hasSurvivor := idx.HasDistance(other, survivor)
		hasAbsorbed := idx.HasDistance(other, absorbed)

		switch {
		case !hasSurvivor && !hasAbsorbed:
			continue
		case !hasSurvivor:
			diags = append(diags, c.oneSided(MakePair(other, absorbed), MakePair(other, survivor)))
			idx.Erase(other, absorbed)
		case !hasAbsorbed:
			diags = append(diags, c.oneSided(MakePair(other, survivor), MakePair(other, absorbed)))
			idx.Erase(other, survivor)
		default:
			if d := idx.Distance(other, absorbed); idx.Distance(other, survivor) < d {
				if err := idx.Update(survivor, other, d); err != nil {
					diags = append(diags, err)
				}
			}
			idx.Erase(other, absorbed)
		}
	}
	return diags
}

func (c *Clusterer) oneSided(present, missing Pair) error {
	c.logger.Warn("clustering error, distance exists for only one side of a merge",
		zap.Stringer("present", present), zap.Stringer("missing", missing))
	return fmt.Errorf("have %s but not %s: %w", present, missing, ErrOneSidedPair)
}

func (c *Clusterer) dumpGroups(w io.Writer, groups []Group) {
	for i, g := range groups {
		fmt.Fprintf(w, "%d: ", i)
		for _, member := range g {
			fmt.Fprintf(w, "%s ", c.opts.Label(member))
		}
		fmt.Fprintln(w)
	}
}

// mergeGroups merges two ascending groups into a new ascending group.
func mergeGroups(a, b Group) Group {
	out := make(Group, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
