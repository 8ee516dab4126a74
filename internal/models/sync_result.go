package models

import "time"

// QueueStatus summarises the queue. Pending + Failed == Total.
type QueueStatus struct {
	Total        int        `json:"total"`
	Pending      int        `json:"pending"` // retry_count == 0
	Failed       int        `json:"failed"`  // retry_count > 0
	LastSyncTime *time.Time `json:"lastSyncTime"`
}

// SyncError records why one operation failed during a run.
type SyncError struct {
	OperationID string `json:"operationId"`
	Error       string `json:"error"`
}

// SyncResult is the outcome of one drain run.
type SyncResult struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Total   int         `json:"total"`
	Errors  []SyncError `json:"errors"`
}

// NewSyncResult returns a zero result with a non-nil error list.
func NewSyncResult() *SyncResult {
	return &SyncResult{Errors: []SyncError{}}
}

// Clone returns a deep copy of r.
func (r *SyncResult) Clone() *SyncResult {
	if r == nil {
		return NewSyncResult()
	}
	c := *r
	c.Errors = append([]SyncError{}, r.Errors...)
	return &c
}
