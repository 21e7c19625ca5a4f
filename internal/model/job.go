package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Script language constants.
const (
	LanguageSMT2   = "smt2"
	LanguageDIMACS = "dimacs"
)

// Backend name constants. BackendAuto selects a backend from the language.
const (
	BackendGini = "gini"
	BackendAuto = "auto"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a job in status s will not change again.
func IsTerminal(s string) bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutputLine is a single persisted line of solver output.
type OutputLine struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is one solve request: a script in some language, run once by a backend.
type Job struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Backend    string     `json:"backend"`
	Language   string     `json:"language"`
	Script     string     `json:"script,omitempty"`
	InputHash  string     `json:"input_hash,omitempty"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	TimeoutS   *int       `json:"timeout_s,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	Cached     bool       `json:"cached"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobStats aggregates job counts and timings.
type JobStats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByLanguage    map[string]int `json:"by_language"`
	CacheHits     int            `json:"cache_hits"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}
