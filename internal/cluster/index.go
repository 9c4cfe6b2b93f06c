package cluster

import (
	"fmt"
	"io"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/TobiSchelling/VoteCluster/internal/matrix"
)

// Pair is an unordered pair of cluster ids held in canonical order, Lo < Hi.
type Pair struct {
	Lo, Hi int
}

// MakePair returns the canonical form of the pair (a, b).
func MakePair(a, b int) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Lo: a, Hi: b}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.Lo, p.Hi)
}

// entry is a key in the sorted tree. Ordering falls back to the pair when
// distances tie, so every key is unique and the lowest pair wins a tie.
type entry struct {
	distance int
	pair     Pair
}

func entryLess(a, b entry) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	if a.pair.Lo != b.pair.Lo {
		return a.pair.Lo < b.pair.Lo
	}
	return a.pair.Hi < b.pair.Hi
}

// slot is the lookup table's reference into the tree. Since tree keys are
// unique, a live slot at (hi, lo) names exactly one entry: {distance, lo, hi}.
type slot struct {
	distance int
	live     bool
}

// noCopy makes go vet's copylocks check reject copies of the index.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

const treeDegree = 32

// DistanceIndex tracks the distance between every pair of live clusters. It
// keeps two views of the same relation in step: a tree sorted by distance,
// which yields the closest pair, and a ragged table indexed by pair, which
// yields a pair's distance. Row hi of the table holds columns 0..hi-1.
//
// The index belongs to a single clustering run and must not be copied.
type DistanceIndex struct {
	noCopy noCopy

	sorted *btree.BTreeG[entry]
	table  [][]slot
	logger *zap.Logger
}

// NewDistanceIndex builds the index from the lower triangle of m, with one
// cluster per entity. Entries missing from short rows become absent pairs.
// A matrix of fewer than two entities yields an empty index.
func NewDistanceIndex(m *matrix.Matrix, logger *zap.Logger) *DistanceIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &DistanceIndex{
		sorted: btree.NewG(treeDegree, entryLess),
		logger: logger,
	}

	n := m.Size()
	if n < 2 {
		logger.Warn("cluster distance setup failed, initial distance data is empty",
			zap.Int("entities", n))
		return idx
	}

	idx.table = make([][]slot, n)
	for hi := 1; hi < n; hi++ {
		row := m.Row(hi)
		idx.table[hi] = make([]slot, hi)
		for lo, d := range row {
			idx.table[hi][lo] = slot{distance: d, live: true}
			idx.sorted.ReplaceOrInsert(entry{distance: d, pair: Pair{Lo: lo, Hi: hi}})
		}
		if len(row) < hi {
			logger.Warn("cluster distance setup: row has too few columns",
				zap.Int("row", hi), zap.Int("columns", len(row)))
		}
	}
	return idx
}

// ClusterIDUpperBound returns the number of cluster id slots, including ones
// emptied by merges.
func (idx *DistanceIndex) ClusterIDUpperBound() int {
	return len(idx.table)
}

// Len returns the number of pairs with a recorded distance.
func (idx *DistanceIndex) Len() int {
	return idx.sorted.Len()
}

// MinimumPair returns the pair with the smallest distance. It reports false
// when no pairs remain.
func (idx *DistanceIndex) MinimumPair() (Pair, bool) {
	e, ok := idx.sorted.Min()
	if !ok {
		return Pair{}, false
	}
	return e.pair, true
}

// lookup returns the table slot for a pair, or nil when either id is out of
// range or the ids are equal.
func (idx *DistanceIndex) lookup(a, b int) *slot {
	p := MakePair(a, b)
	if p.Lo < 0 || p.Lo == p.Hi || p.Hi >= len(idx.table) {
		return nil
	}
	return &idx.table[p.Hi][p.Lo]
}

// HasDistance reports whether a distance is recorded for the pair.
func (idx *DistanceIndex) HasDistance(a, b int) bool {
	s := idx.lookup(a, b)
	return s != nil && s.live
}

// Distance returns the recorded distance for the pair. Zero means no data.
func (idx *DistanceIndex) Distance(a, b int) int {
	s := idx.lookup(a, b)
	if s == nil || !s.live {
		return 0
	}
	return s.distance
}

// Erase removes the pair from both views. Absent pairs are ignored.
func (idx *DistanceIndex) Erase(a, b int) {
	s := idx.lookup(a, b)
	if s == nil || !s.live {
		return
	}
	idx.sorted.Delete(entry{distance: s.distance, pair: MakePair(a, b)})
	*s = slot{}
}

// Update moves the pair to a new distance. Absent pairs are ignored. Under
// complete linkage distances only grow, so a smaller value is logged and
// reported as ErrDistanceShrunk, but still applied.
func (idx *DistanceIndex) Update(a, b, distance int) error {
	s := idx.lookup(a, b)
	if s == nil || !s.live {
		return nil
	}

	p := MakePair(a, b)
	var err error
	if distance < s.distance {
		idx.logger.Warn("distance reduced for cluster pair",
			zap.Stringer("pair", p), zap.Int("old", s.distance), zap.Int("new", distance))
		err = fmt.Errorf("pair %s from %d to %d: %w", p, s.distance, distance, ErrDistanceShrunk)
	}

	idx.sorted.Delete(entry{distance: s.distance, pair: p})
	s.distance = distance
	idx.sorted.ReplaceOrInsert(entry{distance: distance, pair: p})
	return err
}

// Dump writes the distance table in matrix.WriteTriangle layout.
func (idx *DistanceIndex) Dump(w io.Writer) {
	matrix.WriteTriangle(w, len(idx.table), idx.Distance)
}
