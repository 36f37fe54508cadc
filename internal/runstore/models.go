package runstore

import (
	"time"

	"github.com/BaSui01/graphflow/workflow"
)

// RunRecord 一次工作流运行
type RunRecord struct {
	RunID      string    `gorm:"primaryKey;size:36" json:"run_id"`
	Graph      string    `gorm:"size:100;not null;index:idx_runs_graph_started" json:"graph"`
	Status     string    `gorm:"size:20;not null;index" json:"status"`
	Steps      int       `gorm:"not null;default:0" json:"steps"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	FailedNode int       `gorm:"not null;default:0" json:"failed_nodes"`
	StartedAt  time.Time `gorm:"not null;index:idx_runs_graph_started;index:idx_workflow_runs_started_at" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`

	Entries []EntryRecord `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
}

func (RunRecord) TableName() string {
	return "workflow_runs"
}

// EntryRecord 运行日志中的一条节点结果，Seq 保留记录顺序
type EntryRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      string    `gorm:"size:36;not null;index:idx_entries_run_seq" json:"-"`
	Seq        int       `gorm:"not null;index:idx_entries_run_seq" json:"seq"`
	Step       int       `gorm:"not null" json:"step"`
	Node       string    `gorm:"size:100;not null" json:"node"`
	Status     string    `gorm:"size:20;not null" json:"status"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Attempts   int       `gorm:"not null;default:0" json:"attempts"`
	DurationMS int64     `gorm:"not null;default:0" json:"duration_ms"`
	At         time.Time `json:"at"`
}

func (EntryRecord) TableName() string {
	return "workflow_run_entries"
}

func recordFromLog(log *workflow.RunLog) RunRecord {
	entries := log.Entries()
	rec := RunRecord{
		RunID:      log.RunID,
		Graph:      log.Graph,
		Status:     string(log.Status),
		Steps:      log.Steps,
		Error:      log.Error,
		FailedNode: len(log.Failures()),
		StartedAt:  log.StartTime.UTC(),
		FinishedAt: log.EndTime.UTC(),
		DurationMS: log.Duration.Milliseconds(),
		Entries:    make([]EntryRecord, 0, len(entries)),
	}
	for i, e := range entries {
		rec.Entries = append(rec.Entries, EntryRecord{
			RunID:      log.RunID,
			Seq:        i,
			Step:       e.Step,
			Node:       e.Node,
			Status:     string(e.Status),
			Error:      e.Error,
			Attempts:   e.Attempts,
			DurationMS: e.Duration.Milliseconds(),
			At:         e.At.UTC(),
		})
	}
	return rec
}

// LogEntries converts the stored entries back to run log entries.
func (r RunRecord) LogEntries() []workflow.RunLogEntry {
	out := make([]workflow.RunLogEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, workflow.RunLogEntry{
			Step:     e.Step,
			Node:     e.Node,
			Status:   workflow.NodeStatus(e.Status),
			Error:    e.Error,
			Attempts: e.Attempts,
			Duration: time.Duration(e.DurationMS) * time.Millisecond,
			At:       e.At,
		})
	}
	return out
}
