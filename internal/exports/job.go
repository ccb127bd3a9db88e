package exports

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an export job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// UnfinishedStatuses are the states of a job that may still produce output
var UnfinishedStatuses = []Status{StatusPending, StatusProcessing}

// TerminalStatuses are the states a job never leaves
var TerminalStatuses = []Status{StatusComplete, StatusFailed}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is Complete or Failed
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Jobs only move forward: Pending → Processing → Complete, and any
// unfinished job may fail.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusComplete || to == StatusFailed
	}
	return false
}

// Job is one request to export data for an organization
type Job struct {
	ID               string            `json:"id"`
	OrgID            string            `json:"org_id"`
	Kind             string            `json:"kind"`
	Status           Status            `json:"status"`
	AnalyticsKey     string            `json:"analytics_key"`
	AssetType        string            `json:"asset_type"`
	NotificationType string            `json:"notification_type"`
	CreatedBy        string            `json:"created_by,omitempty"`
	CreatedOn        time.Time         `json:"created_on"`
	ModifiedOn       time.Time         `json:"modified_on"`
	StartedOn        *time.Time        `json:"started_on,omitempty"`
	CompletedOn      *time.Time        `json:"completed_on,omitempty"`
	ElapsedSeconds   float64           `json:"elapsed_seconds,omitempty"`
	Extension        string            `json:"extension,omitempty"`
	Error            string            `json:"error,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
}

// NewJob creates a Pending job of the given kind
func NewJob(info KindInfo, orgID, createdBy string, params map[string]string, now time.Time) *Job {
	return &Job{
		ID:               uuid.New().String(),
		OrgID:            orgID,
		Kind:             info.Kind,
		Status:           StatusPending,
		AnalyticsKey:     info.analyticsKey(),
		AssetType:        info.assetType(),
		NotificationType: info.notificationType(),
		CreatedBy:        createdBy,
		CreatedOn:        now,
		ModifiedOn:       now,
		Params:           copyParams(params),
	}
}

// Transition moves the job to status to, stamping timestamps. The job is
// left untouched when the move is not allowed.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &ExportError{
			Type:    ErrorTypeInvalidState,
			JobID:   j.ID,
			Message: fmt.Sprintf("cannot move from %s to %s", j.Status, to),
			Cause:   ErrInvalidTransition,
		}
	}

	j.Status = to
	j.ModifiedOn = now
	switch to {
	case StatusProcessing:
		j.StartedOn = &now
	case StatusComplete, StatusFailed:
		j.CompletedOn = &now
	}
	return nil
}

// IsTerminal reports whether the job has finished, successfully or not
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// IsAssetReady reports whether the job's output can be downloaded
func (j *Job) IsAssetReady() bool { return j.Status == StatusComplete }

// NotificationScope identifies the job in notifications
func (j *Job) NotificationScope() string {
	return fmt.Sprintf("%s:%s", j.NotificationType, j.ID)
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedOn != nil {
		t := *j.StartedOn
		c.StartedOn = &t
	}
	if j.CompletedOn != nil {
		t := *j.CompletedOn
		c.CompletedOn = &t
	}
	c.Params = copyParams(j.Params)
	return &c
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
