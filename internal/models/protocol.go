package models

import "encoding/json"

// Agent API methods, served under /api/{method}.
const (
	MethodFetchAvailable = "worker_fetch_available_jobs"
	MethodAssignJob      = "worker_assign_job"
	MethodSaveResults    = "worker_save_results"
)

// Response envelope status values.
const (
	EnvelopeOK    = "ok"
	EnvelopeError = "error"
)

// Envelope is the decoded form of every /api response.
type Envelope struct {
	Status     string          `json:"status"`
	StatusMsg  string          `json:"status_msg,omitempty"`
	ReturnData json.RawMessage `json:"return_data,omitempty"`
}
