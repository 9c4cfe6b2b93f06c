package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/VoteCluster/internal/cluster"
	"github.com/TobiSchelling/VoteCluster/internal/config"
	"github.com/TobiSchelling/VoteCluster/internal/database"
	"github.com/TobiSchelling/VoteCluster/internal/matrix"
	"github.com/TobiSchelling/VoteCluster/internal/region"
	"github.com/TobiSchelling/VoteCluster/internal/report"
	"github.com/TobiSchelling/VoteCluster/internal/roster"
)

// ErrNoMatrix is returned when a run has no dissimilarity matrix to load.
var ErrNoMatrix = errors.New("no dissimilarity matrix configured")

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Input names the data of one run.
type Input struct {
	MatrixPath string
	RosterPath string
	Label      string
	// Store persists the run when a database is attached.
	Store bool
	// Trace receives the clustering trace when clustering.trace is set.
	Trace   io.Writer
	OnMerge func(cluster.Merge)
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID       string
	Groups      []cluster.Group
	Profiles    []cluster.Profile
	Distances   [][]int // after the meaningful-difference filter
	Diagnostics []error
	Report      string
	Steps       []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// WriteDistances writes the inter-group distance matrix as CSV, with
// matrix.NoLink for pairs above the meaningful-difference limit.
func (r *Result) WriteDistances(w io.Writer) error {
	return matrix.FromRows(r.Distances).WriteCSV(w)
}

// Pipeline orchestrates the 5-step clustering pipeline.
type Pipeline struct {
	cfg     *config.Config
	db      *database.DB
	logger  *zap.Logger
	regions *region.Mapper
}

// New creates a new pipeline. db may be nil, in which case nothing is stored.
func New(cfg *config.Config, db *database.DB, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		regions: region.NewMapper(),
	}
}

// state carries data between steps.
type state struct {
	in      Input
	matrix  *matrix.Matrix
	roster  *roster.Roster
	cluster *cluster.Result
	links   [][]int // after the display filter
}

// Run executes the full pipeline.
func (p *Pipeline) Run(ctx context.Context, in Input) *Result {
	r := &Result{}
	s := &state{in: in}

	// Step 1: Load
	step := p.runLoad(s)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Cluster
	step = p.runCluster(s, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 3: Summarize
	step = p.runSummarize(ctx, s, r)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 4: Report
	step = p.runReport(s, r)
	r.Steps = append(r.Steps, step)

	// Step 5: Store
	step = p.runStore(ctx, s, r)
	r.Steps = append(r.Steps, step)

	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(in Input) *Result {
	r := &Result{}
	cl := p.cfg.Clustering

	if in.MatrixPath == "" {
		r.Steps = append(r.Steps, StepResult{Name: "Load", Err: ErrNoMatrix})
		return r
	}
	m, err := matrix.Load(in.MatrixPath)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Load", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("[dry-run] %d entities in %s (%d warnings)", m.Size(), in.MatrixPath, len(m.Warnings())),
	})

	r.Steps = append(r.Steps, StepResult{
		Name: "Cluster",
		Summary: fmt.Sprintf("[dry-run] Would merge clusters up to distance %d, keeping at least %d groups",
			cl.NoiseThreshold, max(cl.MinGroups, 1)),
	})

	r.Steps = append(r.Steps, StepResult{
		Name: "Summarize",
		Summary: fmt.Sprintf("[dry-run] Links above %d would be dropped, above %d hidden from the report",
			cl.MeaningfulDifferenceLimit, cl.DisplayDifferenceLimit),
	})

	if p.db == nil || !in.Store {
		r.Steps = append(r.Steps, StepResult{Name: "Store", Summary: "[dry-run] Run would not be stored"})
		return r
	}
	runs, _ := p.db.GetAllRuns()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Store",
		Summary: fmt.Sprintf("[dry-run] Would store run next to %d existing runs", len(runs)),
	})
	return r
}

func (p *Pipeline) runLoad(s *state) StepResult {
	p.logger.Info("Step 1/5: Loading input...")
	if s.in.MatrixPath == "" {
		return StepResult{Name: "Load", Err: ErrNoMatrix}
	}
	m, err := matrix.Load(s.in.MatrixPath)
	if err != nil {
		return StepResult{Name: "Load", Err: err}
	}
	for _, w := range m.Warnings() {
		p.logger.Warn("matrix input", zap.Error(w))
	}
	s.matrix = m
	note := ""
	if !m.Complete() {
		p.logger.Warn("matrix is missing entries, those pairs will never merge")
		note = " (incomplete matrix)"
	}

	if s.in.RosterPath != "" {
		ros, err := roster.Load(s.in.RosterPath)
		if err != nil {
			return StepResult{Name: "Load", Err: err}
		}
		if ros.Len() != m.Size() {
			p.logger.Warn("roster size differs from matrix",
				zap.Int("roster", ros.Len()), zap.Int("matrix", m.Size()))
		}
		s.roster = ros
	}

	return StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d entities%s, %d roster members", m.Size(), note, s.roster.Len()),
	}
}

func (p *Pipeline) runCluster(s *state, r *Result) StepResult {
	p.logger.Info("Step 2/5: Clustering...")
	cl := p.cfg.Clustering
	opts := cluster.Options{
		NoiseThreshold: cl.NoiseThreshold,
		MinGroups:      cl.MinGroups,
		Label:          s.roster.Label,
		OnMerge:        s.in.OnMerge,
	}
	if cl.Trace {
		opts.Trace = s.in.Trace
	}

	result, err := cluster.NewClusterer(p.logger, opts).FormClusters(s.matrix)
	if err != nil {
		return StepResult{Name: "Cluster", Err: err}
	}
	s.cluster = result
	r.Groups = result.Groups
	r.Diagnostics = result.Diagnostics

	return StepResult{
		Name: "Cluster",
		Summary: fmt.Sprintf("Formed %d groups from %d entities in %d merges (%d diagnostics)",
			len(result.Groups), s.matrix.Size(), len(result.Merges), len(result.Diagnostics)),
	}
}

func (p *Pipeline) runSummarize(ctx context.Context, s *state, r *Result) StepResult {
	p.logger.Info("Step 3/5: Summarizing groups...")
	groups := s.cluster.Groups

	var distances [][]int
	var profiles []cluster.Profile
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := cluster.InterClusterDistances(s.matrix, groups)
		if err != nil {
			return err
		}
		distances = d
		return ctx.Err()
	})
	g.Go(func() error {
		profiles = cluster.DemographicSummary(groups, s.roster, p.regions)
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return StepResult{Name: "Summarize", Err: err}
	}

	for i, prof := range profiles {
		p.logger.Debug("group profile", zap.Int("group", i), zap.Stringer("profile", prof))
	}

	cl := p.cfg.Clustering
	r.Profiles = profiles
	r.Distances = matrix.FilterLargeMismatch(distances, cl.MeaningfulDifferenceLimit)
	s.links = matrix.FilterLargeMismatch(distances, cl.DisplayDifferenceLimit)

	return StepResult{
		Name: "Summarize",
		Summary: fmt.Sprintf("%d group links within %d, %d within %d",
			countLinks(r.Distances), cl.MeaningfulDifferenceLimit, countLinks(s.links), cl.DisplayDifferenceLimit),
	}
}

func (p *Pipeline) runReport(s *state, r *Result) StepResult {
	p.logger.Info("Step 4/5: Building report...")
	r.Report = report.Build(report.Run{
		Label:          s.in.Label,
		Entities:       s.matrix.Size(),
		NoiseThreshold: p.cfg.Clustering.NoiseThreshold,
		Merges:         len(s.cluster.Merges),
		Profiles:       r.Profiles,
		Links:          s.links,
		Roster:         s.roster,
	})
	return StepResult{
		Name:    "Report",
		Summary: fmt.Sprintf("Report built: %d groups", len(r.Profiles)),
	}
}

func (p *Pipeline) runStore(ctx context.Context, s *state, r *Result) StepResult {
	if p.db == nil || !s.in.Store {
		return StepResult{Name: "Store", Summary: "Skipped"}
	}
	if err := ctx.Err(); err != nil {
		return StepResult{Name: "Store", Err: err}
	}
	p.logger.Info("Step 5/5: Storing run...")

	id, err := p.db.InsertRun(p.record(s, r))
	if err != nil {
		return StepResult{Name: "Store", Err: fmt.Errorf("storing run: %w", err)}
	}
	r.RunID = id
	return StepResult{
		Name:    "Store",
		Summary: fmt.Sprintf("Stored run %s", id),
	}
}

func (p *Pipeline) record(s *state, r *Result) *database.RunRecord {
	cl := p.cfg.Clustering
	rec := &database.RunRecord{
		Run: database.Run{
			Label:          s.in.Label,
			EntityCount:    s.matrix.Size(),
			GroupCount:     len(r.Groups),
			MergeCount:     len(s.cluster.Merges),
			NoiseThreshold: cl.NoiseThreshold,
			MinGroups:      max(cl.MinGroups, 1),
			ReportMarkdown: r.Report,
		},
	}

	for i, prof := range r.Profiles {
		g := database.RunGroup{
			Index:       i,
			Size:        prof.Count(),
			Democrats:   prof.Parties[cluster.PartyDemocrat],
			Republicans: prof.Parties[cluster.PartyRepublican],
			Others:      prof.Parties[cluster.PartyOther],
			Regions:     prof.Regions,
		}
		for _, e := range prof.Members {
			m, _ := s.roster.Member(e)
			g.Members = append(g.Members, database.GroupMember{EntityIndex: e, Name: m.Name})
		}
		rec.Groups = append(rec.Groups, g)
	}

	for i, row := range r.Distances {
		for j := 0; j < i; j++ {
			rec.Distances = append(rec.Distances, database.GroupDistance{GroupA: j, GroupB: i, Distance: row[j]})
		}
	}
	return rec
}

func countLinks(dense [][]int) int {
	n := 0
	for i, row := range dense {
		for j := 0; j < i; j++ {
			if row[j] != matrix.NoLink {
				n++
			}
		}
	}
	return n
}
