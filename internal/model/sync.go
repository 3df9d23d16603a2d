package model

import "time"

// ErrorKind classifies a per-record problem in a sync run.
type ErrorKind string

const (
	// ErrorKindValidation means the record is malformed and will never become valid.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindTransient means the remote store could not be reached; the record stays staged.
	ErrorKindTransient ErrorKind = "transient"
)

// RecordError describes why a staged record was not synced.
type RecordError struct {
	StagedID int64     `json:"staged_id"`
	Kind     ErrorKind `json:"kind"`
	Title    string    `json:"title,omitempty"`
	Source   string    `json:"source,omitempty"`
	Reason   string    `json:"reason"`
}

// SyncResult is the outcome of one SyncManager pass.
type SyncResult struct {
	RunNumber         int64         `json:"run_number"`
	Synced            int           `json:"synced"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	ExactDuplicates   int           `json:"exact_duplicates"`
	FuzzyDuplicates   int           `json:"fuzzy_duplicates"`
	PastEventsPruned  int           `json:"past_events_pruned"`
	Errors            []RecordError `json:"errors,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
}

// ValidationErrors counts errors of kind validation.
func (r *SyncResult) ValidationErrors() int {
	return r.countKind(ErrorKindValidation)
}

// TransientErrors counts errors of kind transient.
func (r *SyncResult) TransientErrors() int {
	return r.countKind(ErrorKindTransient)
}

func (r *SyncResult) countKind(k ErrorKind) int {
	n := 0
	for _, e := range r.Errors {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// RunStatus is the state of a sync run recorded in the sync log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// SyncRun is a row of the remote sync log.
type SyncRun struct {
	ID          string        `json:"id"`
	RunNumber   int64         `json:"run_number"`
	Status      RunStatus     `json:"status"`
	Synced      int           `json:"synced"`
	Duplicates  int           `json:"duplicates"`
	Pruned      int           `json:"pruned"`
	Errors      []RecordError `json:"errors,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
