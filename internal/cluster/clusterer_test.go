package cluster

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/TobiSchelling/VoteCluster/internal/matrix"
)

func formClusters(t *testing.T, m *matrix.Matrix, threshold, minGroups int) *Result {
	t.Helper()
	c := NewClusterer(nil, Options{NoiseThreshold: threshold, MinGroups: minGroups})
	result, err := c.FormClusters(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestFormClustersCompleteLink(t *testing.T) {
	result := formClusters(t, fourEntities(), 20, 1)

	// 0 and 1 merge first. The distance from {0,1} to 2 then becomes
	// max(10, 50) = 50, above the threshold, so 2 stays alone.
	want := []Group{{0, 1}, {2}, {3}}
	if diff := cmp.Diff(want, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	if len(result.Merges) != 1 {
		t.Fatalf("expected 1 merge, got %d", len(result.Merges))
	}
	if result.Merges[0] != (Merge{Survivor: 0, Absorbed: 1, Distance: 10, Remaining: 3}) {
		t.Errorf("unexpected merge %+v", result.Merges[0])
	}
	if len(result.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", result.Diagnostics)
	}
}

func TestFormClustersMergesUpToThreshold(t *testing.T) {
	result := formClusters(t, fourEntities(), 50, 1)

	want := []Group{{0, 1, 2}, {3}}
	if diff := cmp.Diff(want, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestFormClustersEmptyMatrix(t *testing.T) {
	logger, logs := observedLogger()
	c := NewClusterer(logger, DefaultOptions())

	result, err := c.FormClusters(matrix.New(0))
	if !errors.Is(err, ErrEmptyMatrix) {
		t.Fatalf("expected ErrEmptyMatrix, got %v", err)
	}
	if len(result.Groups) != 0 {
		t.Errorf("expected empty partition, got %v", result.Groups)
	}
	if logs.FilterMessage("grouping failed, dissimilarity matrix is empty").Len() != 1 {
		t.Error("expected precondition diagnostic")
	}
}

func TestFormClustersTwoEntities(t *testing.T) {
	m := matrix.New(2)
	m.Set(1, 0, 5)

	result := formClusters(t, m, 100, 1)
	if diff := cmp.Diff([]Group{{0, 1}}, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestFormClustersSingleEntity(t *testing.T) {
	result := formClusters(t, matrix.New(1), 100, 1)
	if diff := cmp.Diff([]Group{{0}}, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestThresholdBelowMinimumKeepsSingletons(t *testing.T) {
	result := formClusters(t, fourEntities(), 9, 1)

	want := []Group{{0}, {1}, {2}, {3}}
	if diff := cmp.Diff(want, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	if len(result.Merges) != 0 {
		t.Errorf("expected no merges, got %d", len(result.Merges))
	}
}

func TestMinGroupsFloor(t *testing.T) {
	for _, floor := range []int{2, 3, 5} {
		result := formClusters(t, matrix.New(8), 100, floor)
		if len(result.Groups) != floor {
			t.Errorf("floor %d: expected %d groups, got %d", floor, floor, len(result.Groups))
		}
	}
}

func TestMinGroupsBelowOneIsClamped(t *testing.T) {
	result := formClusters(t, matrix.New(4), 100, 0)
	if len(result.Groups) != 1 {
		t.Errorf("expected everything merged into 1 group, got %d", len(result.Groups))
	}
}

func TestShortRowProducesOneSidedDiagnostic(t *testing.T) {
	logger, logs := observedLogger()
	m := matrix.FromRows([][]int{
		{},
		{5},
		{7},
	})
	c := NewClusterer(logger, Options{NoiseThreshold: 100, MinGroups: 1})

	result, err := c.FormClusters(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Merging 0 and 1 finds (0,2) but no (1,2); the stale (0,2) is erased
	// and nothing is left to merge.
	if diff := cmp.Diff([]Group{{0, 1}, {2}}, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}

	var shortRow, oneSided int
	for _, d := range result.Diagnostics {
		switch {
		case errors.Is(d, matrix.ErrShortRow):
			shortRow++
		case errors.Is(d, ErrOneSidedPair):
			oneSided++
		}
	}
	if shortRow != 1 || oneSided != 1 {
		t.Errorf("expected 1 short row and 1 one-sided diagnostic, got %v", result.Diagnostics)
	}
	if logs.FilterMessage("clustering error, distance exists for only one side of a merge").Len() != 1 {
		t.Error("expected one-sided warning to be logged")
	}
}

func TestTraceOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewClusterer(nil, Options{
		NoiseThreshold: 20,
		MinGroups:      1,
		Trace:          &buf,
		Label:          func(e int) string { return "m" + string(rune('a'+e)) },
	})
	if _, err := c.FormClusters(fourEntities()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Initial group distances",
		"Merge cluster 0 and 1",
		"New distances:",
		"Final groups:",
		"0: ma mb \n",
		"2: md \n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
}

func TestOnMergeCallback(t *testing.T) {
	var steps []Merge
	c := NewClusterer(nil, Options{
		NoiseThreshold: 100,
		MinGroups:      1,
		OnMerge:        func(m Merge) { steps = append(steps, m) },
	})
	result, err := c.FormClusters(fourEntities())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(result.Merges, steps); diff != "" {
		t.Errorf("callback steps mismatch (-want +got):\n%s", diff)
	}
	if len(steps) != 3 {
		t.Errorf("expected 3 merges, got %d", len(steps))
	}
}

func randomMatrix(r *rand.Rand, n, scale int) *matrix.Matrix {
	m := matrix.New(n)
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			m.Set(i, j, r.IntN(scale))
		}
	}
	return m
}

// naiveCompleteLink recomputes every cluster distance from scratch at each
// step. Clusters are identified by their smallest member, which matches the
// surviving slot id, so ties resolve the same way.
func naiveCompleteLink(m *matrix.Matrix, threshold, minGroups int) []Group {
	groups := make([]Group, m.Size())
	for i := range groups {
		groups[i] = Group{i}
	}
	for {
		live := 0
		for _, g := range groups {
			if len(g) > 0 {
				live++
			}
		}
		if live <= minGroups {
			break
		}

		bestA, bestB, best := -1, -1, 0
		for a := range groups {
			for b := a + 1; b < len(groups); b++ {
				if len(groups[a]) == 0 || len(groups[b]) == 0 {
					continue
				}
				d := 0
				for _, x := range groups[a] {
					for _, y := range groups[b] {
						d = max(d, m.At(x, y))
					}
				}
				if bestA < 0 || d < best {
					bestA, bestB, best = a, b, d
				}
			}
		}
		if bestA < 0 || best > threshold {
			break
		}
		groups[bestA] = mergeGroups(groups[bestA], groups[bestB])
		groups[bestB] = nil
	}

	var out []Group
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func TestFormClustersProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 40; trial++ {
		n := 2 + r.IntN(30)
		threshold := r.IntN(1000)
		floor := 1 + r.IntN(3)
		m := randomMatrix(r, n, 1000)

		result := formClusters(t, m, threshold, floor)

		if len(result.Merges) > n-1 {
			t.Errorf("trial %d: %d merges for %d entities", trial, len(result.Merges), n)
		}

		seen := make([]bool, n)
		for _, g := range result.Groups {
			if len(g) == 0 {
				t.Errorf("trial %d: empty group in result", trial)
			}
			for _, e := range g {
				if seen[e] {
					t.Errorf("trial %d: entity %d in two groups", trial, e)
				}
				seen[e] = true
			}
			// Every pair inside a group is within the threshold.
			for _, x := range g {
				for _, y := range g {
					if x != y && m.At(x, y) > threshold {
						t.Errorf("trial %d: %d and %d grouped at distance %d", trial, x, y, m.At(x, y))
					}
				}
			}
		}
		for e, ok := range seen {
			if !ok {
				t.Errorf("trial %d: entity %d missing from result", trial, e)
			}
		}

		for i := 1; i < len(result.Merges); i++ {
			if result.Merges[i].Distance < result.Merges[i-1].Distance {
				t.Errorf("trial %d: merge distance decreased %d -> %d",
					trial, result.Merges[i-1].Distance, result.Merges[i].Distance)
			}
		}
		if len(result.Diagnostics) != 0 {
			t.Errorf("trial %d: unexpected diagnostics %v", trial, result.Diagnostics)
		}

		if diff := cmp.Diff(naiveCompleteLink(m, threshold, floor), result.Groups); diff != "" {
			t.Errorf("trial %d: differs from naive complete link (-want +got):\n%s", trial, diff)
		}
	}
}

func TestMergeGroups(t *testing.T) {
	got := mergeGroups(Group{1, 4, 9}, Group{2, 3, 10})
	if diff := cmp.Diff(Group{1, 2, 3, 4, 9, 10}, got); diff != "" {
		t.Errorf("mergeGroups mismatch (-want +got):\n%s", diff)
	}
}
