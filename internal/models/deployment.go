// Package models defines the data shapes persisted and exchanged by the
// deployment pipeline: DeploymentRecord and its index entry.
package models

import "time"

// DeploymentStatus is the finite set of states a DeploymentRecord can be in.
type DeploymentStatus string

const (
	StatusPending     DeploymentStatus = "pending"
	StatusCloning     DeploymentStatus = "cloning"
	StatusBuilding    DeploymentStatus = "building"
	StatusDeploying   DeploymentStatus = "deploying"
	StatusRunning     DeploymentStatus = "running"
	StatusFailed      DeploymentStatus = "failed"
	StatusStopped     DeploymentStatus = "stopped"
	StatusRolledBack  DeploymentStatus = "rolled_back"
)

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// DeploymentStep is one audit entry in a DeploymentRecord's pipeline
// history.
type DeploymentStep struct {
	Name            string     `json:"name"`
	Status          StepStatus `json:"status"`
	DurationSeconds float64    `json:"duration_seconds"`
	Error           string     `json:"error,omitempty"`
}

// HealthCheckResult is the outcome of a healthcheck tool call, attached to a
// DeploymentRecord once one has run against it.
type HealthCheckResult struct {
	Status       string `json:"status"`
	URL          string `json:"url"`
	ResponseCode int    `json:"response_code,omitempty"`
	Retries      int    `json:"retries"`
	Error        string `json:"error,omitempty"`
}

// DeploymentRecord is the central persisted entity: one attempt to deploy a
// commit of a repository as a running container.
type DeploymentRecord struct {
	DeploymentID string `json:"deployment_id"`

	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	CommitSHA   string `json:"commit_sha"`
	ProjectType string `json:"project_type"`

	ImageName string `json:"image_name"`
	ImageTag  string `json:"image_tag"`
	ImageID   string `json:"image_id,omitempty"`

	ContainerName string `json:"container_name"`
	ContainerID   string `json:"container_id,omitempty"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`

	Status DeploymentStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	BuildLogsPath string `json:"build_logs_path,omitempty"`
	Error         string `json:"error,omitempty"`

	RollbackFrom string `json:"rollback_from,omitempty"`

	Steps []DeploymentStep `json:"steps"`

	Healthcheck *HealthCheckResult `json:"healthcheck,omitempty"`
}

// IndexEntry is one row of the deployment directory's index.json.
type IndexEntry struct {
	DeploymentID string           `json:"deployment_id"`
	Status       DeploymentStatus `json:"status"`
	RepoURL      string           `json:"repo_url"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Index is the full contents of index.json.
type Index struct {
	Entries []IndexEntry `json:"deployments"`
}

// Upsert inserts entry, or replaces the existing entry with the same
// DeploymentID, in place.
func (idx *Index) Upsert(entry IndexEntry) {
	for i, e := range idx.Entries {
		if e.DeploymentID == entry.DeploymentID {
			idx.Entries[i] = entry
			return
		}
	}
	idx.Entries = append(idx.Entries, entry)
}
