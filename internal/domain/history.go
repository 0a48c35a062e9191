package domain

import "time"

// HistoryRecord captures a digest of one diagnostic run.
type HistoryRecord struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Query       string      `json:"query"`
	Model       string      `json:"model"`
	DryRun      bool        `json:"dry_run"`
	Steps       int         `json:"steps"`
	Denied      int         `json:"denied"`
	Termination Termination `json:"termination"`
	Summary     string      `json:"summary"`
	DurationMS  int64       `json:"duration_ms"`
	Transcript  *Transcript `json:"transcript,omitempty"`
}

// NewHistoryRecord condenses a transcript into a storable record.
func NewHistoryRecord(t Transcript) HistoryRecord {
	tc := t
	return HistoryRecord{
		ID:          t.ID,
		Timestamp:   t.StartedAt,
		Query:       t.Query.String(),
		Model:       t.Model,
		DryRun:      t.DryRun,
		Steps:       len(t.Entries),
		Denied:      t.Count(EntryDenied),
		Termination: t.Termination,
		Summary:     t.Summary,
		DurationMS:  t.Duration().Milliseconds(),
		Transcript:  &tc,
	}
}
