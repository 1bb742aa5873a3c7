package migrator

import (
	"time"

	"github.com/memeplatform/memeops/internal/records"
	"github.com/memeplatform/memeops/internal/storage"
)

// KindReport is the outcome for one entity kind.
type KindReport struct {
	Kind     records.Kind `json:"kind" yaml:"kind"`
	Migrated int          `json:"migrated" yaml:"migrated"`
	Skipped  int          `json:"skipped" yaml:"skipped"`
}

// Report summarizes a run. Kinds is always in migration order.
type Report struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	ResumedFrom string       `json:"resumed_from,omitempty" yaml:"resumed_from,omitempty"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time    `json:"finished_at" yaml:"finished_at"`
	Kinds       []KindReport `json:"kinds" yaml:"kinds"`
	Success     bool         `json:"success" yaml:"success"`
	Resumed     bool         `json:"resumed" yaml:"resumed"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReport(runID string, started time.Time) *Report {
	r := &Report{RunID: runID, StartedAt: started}
	for _, k := range records.Kinds() {
		r.Kinds = append(r.Kinds, KindReport{Kind: k})
	}
	return r
}

// Counts returns the number of rows migrated per kind by this run.
func (r *Report) Counts() map[records.Kind]int {
	counts := make(map[records.Kind]int, len(r.Kinds))
	for _, k := range r.Kinds {
		counts[k.Kind] = k.Migrated
	}
	return counts
}

// Total returns the number of rows migrated by this run across all kinds.
func (r *Report) Total() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Migrated
	}
	return n
}

// Duration is the wall time of the run, zero while it is still running.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToRunRecord converts the report into its audit entry.
func (r *Report) ToRunRecord() storage.RunRecord {
	return storage.RunRecord{
		RunID:       r.RunID,
		ResumedFrom: r.ResumedFrom,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Success:     r.Success,
		Counts:      r.Counts(),
		Error:       r.Error,
	}
}

func (r *Report) kind(k records.Kind) *KindReport {
	for i := range r.Kinds {
		if r.Kinds[i].Kind == k {
			return &r.Kinds[i]
		}
	}
	return nil
}
