package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/VoteCluster/internal/cluster"
	"github.com/TobiSchelling/VoteCluster/internal/config"
	"github.com/TobiSchelling/VoteCluster/internal/database"
	"github.com/TobiSchelling/VoteCluster/internal/pipeline"
	"github.com/TobiSchelling/VoteCluster/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "votecluster",
	Short:   "Group legislators by voting record",
	Long:    "VoteCluster merges legislators whose voting records barely differ into groups and reports their party and regional make-up.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case err == nil:
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		case configPath != "":
			return err
		default:
			cfg = config.Default()
		}

		logger, err = cfg.NewLogger(verbose)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		if path == "" {
			logger.Debug("no config file found, using defaults")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("votecluster", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/votecluster/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your dissimilarity matrix and roster.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Runs:")
		fmt.Printf("  Stored: %d\n", stats.Runs)
		if stats.LatestRun != "" {
			fmt.Printf("  Latest: %s\n", stats.LatestRun)
		}
		fmt.Printf("  Groups: %d\n", stats.Groups)
		fmt.Printf("  Members: %d\n", stats.Members)
		fmt.Println("\nClustering:")
		fmt.Printf("  Noise threshold: %d\n", cfg.Clustering.NoiseThreshold)
		fmt.Printf("  Min groups: %d\n", cfg.Clustering.MinGroups)
		return nil
	},
}

// --- cluster command ---

var (
	matrixPath string
	rosterPath string
	threshold  int
	minGroups  int
	trace      bool
	runLabel   string
	noStore    bool
	dryRun     bool
	distances  string
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run the pipeline: load -> cluster -> summarize -> report -> store",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("matrix") {
			cfg.Input.Matrix = matrixPath
		}
		if flags.Changed("roster") {
			cfg.Input.Roster = rosterPath
		}
		if flags.Changed("threshold") {
			cfg.Clustering.NoiseThreshold = threshold
		}
		if flags.Changed("min-groups") {
			cfg.Clustering.MinGroups = minGroups
		}
		if flags.Changed("trace") {
			cfg.Clustering.Trace = trace
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Input.Matrix == "" {
			return pipeline.ErrNoMatrix
		}

		var db *database.DB
		if !noStore {
			var err error
			db, err = openDB()
			if err != nil {
				return err
			}
			defer db.Close()
		}

		label := runLabel
		if label == "" {
			label = filepath.Base(cfg.Input.Matrix)
		}
		in := pipeline.Input{
			MatrixPath: cfg.Input.Matrix,
			RosterPath: cfg.Input.Roster,
			Label:      label,
			Store:      !noStore,
			Trace:      os.Stderr,
		}

		pipe := pipeline.New(cfg, db, logger)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(in)
		} else {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			progress := newMergeProgress(cfg.Clustering.MinGroups, !cfg.Clustering.Trace)
			in.OnMerge = progress.update
			result = pipe.Run(ctx, in)
			progress.finish()
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/5: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		for _, d := range result.Diagnostics {
			fmt.Printf("  Warning: %v\n", d)
		}

		if result.Failed() {
			return errors.New("pipeline failed")
		}
		if dryRun {
			return nil
		}
		if distances != "" {
			if err := writeDistances(distances, result); err != nil {
				return err
			}
			fmt.Printf("\nGroup distances written to %s\n", distances)
		}
		if result.RunID != "" {
			fmt.Printf("\nPipeline complete! Run 'votecluster runs show %s' or 'votecluster serve' to view it.\n", result.RunID)
		} else {
			fmt.Printf("\n%s\n", result.Report)
		}
		return nil
	},
}

func init() {
	defaults := cluster.DefaultOptions()
	f := clusterCmd.Flags()
	f.StringVarP(&matrixPath, "matrix", "m", "", "Dissimilarity matrix file (.csv or .yaml)")
	f.StringVarP(&rosterPath, "roster", "r", "", "Roster YAML file naming each entity")
	f.IntVarP(&threshold, "threshold", "t", defaults.NoiseThreshold, "Largest distance still merged")
	f.IntVar(&minGroups, "min-groups", defaults.MinGroups, "Stop merging at this many groups")
	f.BoolVar(&trace, "trace", false, "Print the distance table after every merge")
	f.StringVarP(&runLabel, "label", "l", "", "Label for the stored run (default: matrix file name)")
	f.BoolVar(&noStore, "no-store", false, "Print the report instead of storing the run")
	f.BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	f.StringVar(&distances, "distances", "", "Write the inter-group distance matrix to this CSV file")
}

func writeDistances(path string, result *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating distances file: %w", err)
	}
	if err := result.WriteDistances(f); err != nil {
		f.Close()
		return fmt.Errorf("writing distances: %w", err)
	}
	return f.Close()
}

// mergeProgress drives a progress bar from merge callbacks. The bar is only
// shown on a terminal.
type mergeProgress struct {
	enabled   bool
	minGroups int
	bar       *progressbar.ProgressBar
}

func newMergeProgress(minGroups int, enabled bool) *mergeProgress {
	return &mergeProgress{
		enabled:   enabled && isatty.IsTerminal(os.Stderr.Fd()),
		minGroups: max(minGroups, 1),
	}
}

func (p *mergeProgress) update(m cluster.Merge) {
	if !p.enabled {
		return
	}
	if p.bar == nil {
		// The first merge leaves n-1 clusters; at most n-minGroups merges follow.
		total := m.Remaining + 1 - p.minGroups
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Merging"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	if err := p.bar.Add(1); err != nil {
		logger.Debug("updating progress bar", zap.Error(err))
	}
}

func (p *mergeProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// --- runs command ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored clustering runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetAllRuns()
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs stored. Create one with: votecluster cluster --matrix <file>")
			return nil
		}

		for _, r := range runs {
			created := ""
			if r.CreatedAt != nil {
				created = *r.CreatedAt
			}
			fmt.Printf("  %s  %s  %s\n", r.ID, created, r.Label)
			fmt.Printf("        %d entities -> %d groups (threshold %d)\n", r.EntityCount, r.GroupCount, r.NoiseThreshold)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print the report of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		fmt.Println(run.ReportMarkdown)
		return nil
	},
}

var runsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}

		if err := db.DeleteRun(run.ID); err != nil {
			return err
		}
		fmt.Printf("Removed run %s: %s\n", run.ID, run.Label)
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsRemoveCmd)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "votecluster.db")
	return database.Open(dbPath, logger)
}
