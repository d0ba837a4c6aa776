package indexer

import (
	"context"
	"fmt"
	"time"
)

// Run statuses
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// maxReportedErrors caps Result.Errors; the counters stay exact
const maxReportedErrors = 100

// Result summarizes one indexing run
type Result struct {
	Status         string        `json:"status"`
	RunID          string        `json:"run_id,omitempty"`
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesOversized int           `json:"files_oversized"`
	FilesFailed    int           `json:"files_failed"`
	FilesPruned    int           `json:"files_pruned"`
	ChunksCreated  int           `json:"chunks_created"`
	ChunksFailed   int           `json:"chunks_failed"`
	TotalFiles     int           `json:"total_files"`
	TotalChunks    int           `json:"total_chunks"`
	Duration       time.Duration `json:"duration_ns"`
	Message        string        `json:"message"`
	Errors         []string      `json:"errors,omitempty"`
}

func (r *Result) addError(file string, err error) {
	if len(r.Errors) >= maxReportedErrors {
		return
	}
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", file, err))
}

func (r *Result) summarize() {
	r.Message = fmt.Sprintf("Indexed %d files (%d unchanged, %d failed), created %d chunks; store holds %d chunks from %d files",
		r.FilesProcessed, r.FilesSkipped, r.FilesFailed, r.ChunksCreated, r.TotalChunks, r.TotalFiles)
}

// ProgressFunc receives coarse progress on a 0-100 scale. It must not block.
type ProgressFunc func(percent, total int, message string)

type progressKey struct{}

// WithProgress returns a context whose IndexAll run reports to fn instead of
// the indexer's listener. fn is only bound once the run holds the index lock,
// so a skipped request never sees progress.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ProgressFromContext returns the listener installed by WithProgress, or nil
func ProgressFromContext(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}
