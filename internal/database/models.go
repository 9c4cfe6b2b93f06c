package database

// Run is one stored clustering run.
type Run struct {
	ID             string
	Label          string
	EntityCount    int
	GroupCount     int
	MergeCount     int
	NoiseThreshold int
	MinGroups      int
	ReportMarkdown string
	CreatedAt      *string
}

// RunGroup is a group of a run with its membership summary.
type RunGroup struct {
	Index       int
	Size        int
	Democrats   int
	Republicans int
	Others      int
	Regions     []int // index 0 counts members of unknown region
	Members     []GroupMember
}

// GroupMember is one entity assigned to a group.
type GroupMember struct {
	EntityIndex int
	Name        string
}

// GroupDistance is the mean distance between two groups of a run, GroupA <
// GroupB. Filtered-out links are stored as -1.
type GroupDistance struct {
	GroupA   int
	GroupB   int
	Distance int
}

// RunRecord bundles everything stored for a run.
type RunRecord struct {
	Run       Run
	Groups    []RunGroup
	Distances []GroupDistance
}

// Stats contains aggregate database statistics.
type Stats struct {
	Runs      int
	Groups    int
	Members   int
	LatestRun string
}
