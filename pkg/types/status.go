package types

import "time"

// IndexingStatus describes the in-flight indexing run. It lives only in memory
// and is reset at the start of every run.
type IndexingStatus struct {
	InProgress     bool      `json:"in_progress"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	Percentage     int       `json:"percentage"`
	RunID          string    `json:"run_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// FileHash is the stored content digest of an indexed file
type FileHash struct {
	File      string
	Hash      string
	IndexedAt time.Time
}
