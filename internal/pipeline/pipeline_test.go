package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TobiSchelling/VoteCluster/internal/cluster"
	"github.com/TobiSchelling/VoteCluster/internal/config"
	"github.com/TobiSchelling/VoteCluster/internal/database"
)

const matrixCSV = `0,10,10,90
10,0,50,90
10,50,0,90
90,90,90,0
`

const rosterYAML = `members:
  - {name: Adams, party: Democrat, state: MA}
  - {name: Baker, party: Democrat, state: NY}
  - {name: Cole, party: Republican, state: TX}
  - {name: Dunn, party: Independent, state: ZZ}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Clustering.NoiseThreshold = 50
	return cfg
}

func stepNames(r *Result) []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestRun(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(), db, nil)

	var merges []cluster.Merge
	result := p.Run(context.Background(), Input{
		MatrixPath: writeFile(t, "m.csv", matrixCSV),
		RosterPath: writeFile(t, "r.yaml", rosterYAML),
		Label:      "test run",
		Store:      true,
		OnMerge:    func(m cluster.Merge) { merges = append(merges, m) },
	})

	require.False(t, result.Failed(), "steps: %+v", result.Steps)
	require.Equal(t, []string{"Load", "Cluster", "Summarize", "Report", "Store"}, stepNames(result))

	want := []cluster.Group{{0, 1, 2}, {3}}
	if diff := cmp.Diff(want, result.Groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, merges, 2)
	require.Equal(t, [][]int{{0, 90}, {90, 0}}, result.Distances)
	require.Equal(t, [3]int{2, 1, 0}, result.Profiles[0].Parties)
	require.Contains(t, result.Report, "- Adams[D:MA]")
	require.Contains(t, result.Report, "| 0 | 1 | 90 |")

	require.NotEmpty(t, result.RunID)
	run, err := db.GetRun(result.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, "test run", run.Label)
	require.Equal(t, 2, run.GroupCount)
	require.Equal(t, 2, run.MergeCount)

	groups, err := db.GetRunGroups(result.RunID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "Dunn", groups[1].Members[0].Name)

	distances, err := db.GetGroupDistances(result.RunID)
	require.NoError(t, err)
	require.Equal(t, []database.GroupDistance{{GroupA: 0, GroupB: 1, Distance: 90}}, distances)
}

func TestRunAppliesDifferenceLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Clustering.MeaningfulDifferenceLimit = 80
	cfg.Clustering.DisplayDifferenceLimit = 40
	p := New(cfg, nil, nil)

	result := p.Run(context.Background(), Input{MatrixPath: writeFile(t, "m.csv", matrixCSV)})
	require.False(t, result.Failed())
	require.Equal(t, [][]int{{0, -1}, {-1, 0}}, result.Distances)
	require.Contains(t, result.Report, "No group pairs fall within the display limit.")
}

func TestRunWithoutStoreSkips(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(), db, nil)

	result := p.Run(context.Background(), Input{MatrixPath: writeFile(t, "m.csv", matrixCSV)})
	require.False(t, result.Failed())
	require.Equal(t, "Skipped", result.Steps[len(result.Steps)-1].Summary)
	require.Empty(t, result.RunID)

	runs, err := db.GetAllRuns()
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRunMissingMatrixStops(t *testing.T) {
	p := New(testConfig(), nil, nil)

	result := p.Run(context.Background(), Input{MatrixPath: filepath.Join(t.TempDir(), "none.csv")})
	require.Len(t, result.Steps, 1)
	require.Error(t, result.Steps[0].Err)

	result = p.Run(context.Background(), Input{})
	require.True(t, errors.Is(result.Steps[0].Err, ErrNoMatrix))
}

func TestRunEmptyMatrixStopsAtCluster(t *testing.T) {
	p := New(testConfig(), nil, nil)

	result := p.Run(context.Background(), Input{MatrixPath: writeFile(t, "m.yaml", "scores: []\n")})
	require.Equal(t, []string{"Load", "Cluster"}, stepNames(result))
	require.ErrorIs(t, result.Steps[1].Err, cluster.ErrEmptyMatrix)
}

func TestRunTraceOnlyWhenConfigured(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, nil, nil)
	path := writeFile(t, "m.csv", matrixCSV)

	var buf bytes.Buffer
	p.Run(context.Background(), Input{MatrixPath: path, Trace: &buf})
	require.Zero(t, buf.Len())

	cfg.Clustering.Trace = true
	p.Run(context.Background(), Input{MatrixPath: path, Trace: &buf})
	require.Contains(t, buf.String(), "Final groups:")
}

func TestRunCancelledContext(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(), db, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx, Input{MatrixPath: writeFile(t, "m.csv", matrixCSV), Store: true})
	require.True(t, result.Failed())
	last := result.Steps[len(result.Steps)-1]
	require.ErrorIs(t, last.Err, context.Canceled)
}

func TestDryRun(t *testing.T) {
	db := openTestDB(t)
	p := New(testConfig(), db, nil)

	result := p.DryRun(Input{MatrixPath: writeFile(t, "m.csv", matrixCSV), Store: true})
	require.Equal(t, []string{"Load", "Cluster", "Summarize", "Store"}, stepNames(result))
	for _, s := range result.Steps {
		require.True(t, strings.HasPrefix(s.Summary, "[dry-run]"), s.Summary)
	}
	require.Contains(t, result.Steps[0].Summary, "4 entities")
	require.Contains(t, result.Steps[1].Summary, "distance 50")
}

func TestRunReportsIncompleteMatrix(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(testConfig(), nil, zap.New(core))

	result := p.Run(context.Background(), Input{MatrixPath: writeFile(t, "m.csv", "0\n10,0\n90\n")})
	require.False(t, result.Failed(), "steps: %+v", result.Steps)
	require.Contains(t, result.Steps[0].Summary, "(incomplete matrix)")
	require.Equal(t, 1, logs.FilterMessage("matrix is missing entries, those pairs will never merge").Len())
	require.NotEmpty(t, result.Diagnostics)
}

func TestRunLogsGroupProfiles(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := New(testConfig(), nil, zap.New(core))

	result := p.Run(context.Background(), Input{
		MatrixPath: writeFile(t, "m.csv", matrixCSV),
		RosterPath: writeFile(t, "r.yaml", rosterYAML),
	})
	require.False(t, result.Failed())

	entries := logs.FilterMessage("group profile").All()
	require.Len(t, entries, 2)
	require.Equal(t, "3 members D:2 R:1 Regions: 1:2 2:1", entries[0].ContextMap()["profile"])
}

func TestWriteDistances(t *testing.T) {
	cfg := testConfig()
	cfg.Clustering.NoiseThreshold = 10
	cfg.Clustering.MeaningfulDifferenceLimit = 80
	p := New(cfg, nil, nil)

	result := p.Run(context.Background(), Input{MatrixPath: writeFile(t, "m.csv", matrixCSV)})
	require.False(t, result.Failed())

	var buf bytes.Buffer
	require.NoError(t, result.WriteDistances(&buf))
	// {0,1} to {2} averages (10+50)/2 = 30; both links to {3} are 90, above the limit.
	require.Equal(t, "0,30,-1\n30,0,-1\n-1,-1,0\n", buf.String())
}
