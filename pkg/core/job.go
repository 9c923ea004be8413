// Package core provides the domain models and interfaces for the jobs package.
package core

import (
	"time"
)

// JobState represents the current state of a job.
type JobState string

const (
	StateNew     JobState = "new"     // Created, handler not yet claimed it
	StateQueued  JobState = "queued"  // Assigned to a concrete handler
	StateRunning JobState = "running" // Prepared and executing
	StateOK      JobState = "ok"
	StateError   JobState = "error"
	StateDeleted JobState = "deleted" // Cancelled before completion
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == StateOK || s == StateError || s == StateDeleted
}

// Job is a tool execution dispatched to a handler.
type Job struct {
	ID               string     `gorm:"primaryKey;size:36"`
	ToolID           string     `gorm:"index;size:255;not null"`
	ToolVersion      string     `gorm:"size:255"`
	CommandLine      string     `gorm:"type:text"`
	State            JobState   `gorm:"index;size:20;default:'new'"`
	Handler          string     `gorm:"index;size:255"` // Tag until claimed, then a concrete handler id
	Destination      string     `gorm:"size:255"`
	WorkingDirectory string     `gorm:"size:1024"`
	ExternalID       string     `gorm:"size:255"` // Job id on the remote execution host
	ExitCode         *int       `gorm:"default:null"`
	Attempt          int        `gorm:"default:0"`
	MaxRetries       int        `gorm:"default:0"`
	LastError        string     `gorm:"type:text"`
	RunAt            *time.Time `gorm:"index"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
	LockedBy         string     `gorm:"size:255"`
	LockedUntil      *time.Time `gorm:"index"`

	Datasets []JobDataset `gorm:"foreignKey:JobID"`
}

// JobDataset is an input or output dataset attached to a job.
type JobDataset struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	JobID    string `gorm:"index;size:36;not null"`
	Name     string `gorm:"size:255"`
	Path     string `gorm:"size:1024;not null"`
	Hid      int
	IsOutput bool `gorm:"default:false"`
}

// DatasetID returns the dataset's numeric id.
func (d *JobDataset) DatasetID() int64 { return d.ID }

// FilePath returns the physical path of the dataset on the controlling host.
func (d *JobDataset) FilePath() string { return d.Path }

// HistoryID returns the dataset's history sequence number.
func (d *JobDataset) HistoryID() int { return d.Hid }

// Inputs returns the job's input datasets in id order.
func (j *Job) Inputs() []*JobDataset {
	return j.filterDatasets(false)
}

// Outputs returns the job's output datasets in id order.
func (j *Job) Outputs() []*JobDataset {
	return j.filterDatasets(true)
}

func (j *Job) filterDatasets(output bool) []*JobDataset {
	var out []*JobDataset
	for i := range j.Datasets {
		if j.Datasets[i].IsOutput == output {
			out = append(out, &j.Datasets[i])
		}
	}
	return out
}
