package workflow

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus is the outcome recorded for one node in one step.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusFailed    NodeStatus = "failed"
	// NodeStatusRevisionLimit marks a reviewer whose loop was force-approved.
	NodeStatusRevisionLimit NodeStatus = "revision_limit"
)

// RunLogEntry records one node outcome.
type RunLogEntry struct {
	Step     int           `json:"step"`
	Node     string        `json:"node"`
	Status   NodeStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// RunLog is the append-only record of a run.
type RunLog struct {
	RunID     string        `json:"run_id"`
	Graph     string        `json:"graph"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    RunStatus     `json:"status"`
	Steps     int           `json:"steps"`
	Error     string        `json:"error,omitempty"`

	entries []RunLogEntry
	mu      sync.RWMutex
}

// NewRunLog starts a run log.
func NewRunLog(runID, graph string) *RunLog {
	return &RunLog{
		RunID:     runID,
		Graph:     graph,
		StartTime: time.Now(),
		Status:    RunStatusRunning,
	}
}

// Record appends an entry.
func (l *RunLog) Record(entry RunLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	l.entries = append(l.entries, entry)
}

// Complete closes the log.
func (l *RunLog) Complete(steps int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.EndTime = time.Now()
	l.Duration = l.EndTime.Sub(l.StartTime)
	l.Steps = steps
	if err != nil {
		l.Status = RunStatusFailed
		l.Error = err.Error()
	} else {
		l.Status = RunStatusCompleted
	}
}

// Entries returns a copy of all entries in record order.
func (l *RunLog) Entries() []RunLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]RunLogEntry(nil), l.entries...)
}

// ByNode returns the entries of one node.
func (l *RunLog) ByNode(name string) []RunLogEntry {
	return l.filter(func(e RunLogEntry) bool { return e.Node == name })
}

// ByStatus returns the entries with status.
func (l *RunLog) ByStatus(status NodeStatus) []RunLogEntry {
	return l.filter(func(e RunLogEntry) bool { return e.Status == status })
}

// Failures returns the failed node entries.
func (l *RunLog) Failures() []RunLogEntry {
	return l.ByStatus(NodeStatusFailed)
}

func (l *RunLog) filter(keep func(RunLogEntry) bool) []RunLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []RunLogEntry
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
