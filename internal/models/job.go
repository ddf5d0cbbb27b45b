package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted by the store.
type JobStatus string

const (
	StatusNew        JobStatus = "new"
	StatusAssigned   JobStatus = "assigned"
	StatusFinished   JobStatus = "finished"
	StatusYaraErrors JobStatus = "yara_errors"
)

// AgentID identifies an authenticated scanning agent.
type AgentID int64

// Job represents one unit of scan work.
type Job struct {
	ID            int64     `json:"id"`
	FilesetScan   string    `json:"fileset_scan"`
	Rules         string    `json:"rules"`
	Status        JobStatus `json:"status"`
	NotifyEmail   *string   `json:"notify_email,omitempty"`
	AssignedAgent *AgentID  `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableJob is the lightweight record returned when listing work.
type AvailableJob struct {
	ID          int64  `json:"id"`
	FilesetScan string `json:"fileset_scan"`
}

// JobDetail is what an agent needs to run a job it has been assigned.
type JobDetail struct {
	ID          int64  `json:"id"`
	FilesetScan string `json:"fileset_scan"`
	Rules       string `json:"rules"`
}

// NotifyDetails carries what the dispatcher needs to report on a finished job.
type NotifyDetails struct {
	Email       *string
	Rules       string
	FilesetScan string
}
