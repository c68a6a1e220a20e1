package domain

import "time"

// GitContext describes the commit a run is operating against. The K8s
// Target does not read it: its Jobs carry no git-clone init container.
type GitContext struct {
	URL string
	SHA string
	Ref string
}

// RunContext is the per-invocation state threaded through a single Scheduler
// run (spec §3). It is owned by the Scheduler and torn down exactly once, on
// every exit path, by calling the chosen Target's teardown.
type RunContext struct {
	RunID       string
	Workdir     string
	TargetState any
	StartTime   time.Time
	GitContext  *GitContext
	Opts        RunOptions
}

// RunOptions are the caller-supplied knobs for a single run.
type RunOptions struct {
	BaseRef      string
	OnlyAffected bool
	TargetName   string
	Labels       []string
}
