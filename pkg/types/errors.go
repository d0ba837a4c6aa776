package types

import "errors"

// Domain errors shared across packages
var (
	ErrMissingFile        = errors.New("file path is required")
	ErrInvalidLineRange   = errors.New("start line must be before or equal to end line")
	ErrEmptyContent       = errors.New("content cannot be empty")
	ErrVectorDimension    = errors.New("vector dimension mismatch")
	ErrWorkspaceNotFound  = errors.New("workspace root does not exist")
	ErrIndexingInProgress = errors.New("indexing already in progress")
)
