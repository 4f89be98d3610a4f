package jobs

import (
	"strings"
	"time"
)

// Status represents a job lifecycle state.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusSeparating   Status = "separating"
	StatusPredicting   Status = "predicting"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusOrder = []Status{
	StatusQueued,
	StatusProcessing,
	StatusSeparating,
	StatusPredicting,
	StatusTranscribing,
	StatusCompleted,
}

var activeStatuses = map[Status]struct{}{
	StatusQueued:       {},
	StatusProcessing:   {},
	StatusSeparating:   {},
	StatusPredicting:   {},
	StatusTranscribing: {},
}

// ActiveStatuses lists the non-terminal statuses in pipeline order.
func ActiveStatuses() []Status {
	return append([]Status(nil), statusOrder[:len(statusOrder)-1]...)
}

// AllStatuses lists every status in display order.
func AllStatuses() []Status {
	return append(append([]Status(nil), statusOrder...), StatusFailed)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range AllStatuses() {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsActive reports whether the status still counts against admission.
func (s Status) IsActive() bool {
	_, ok := activeStatuses[s]
	return ok
}

// IsTerminal reports whether the job has stopped moving.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Next returns the successor on the happy path.
func (s Status) Next() (Status, bool) {
	for i, status := range statusOrder {
		if status == s && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is permitted: one step forward along
// the happy path, or any active status to failed. Staying put is a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusFailed {
		return from.IsActive()
	}
	next, ok := from.Next()
	return ok && next == to
}

// InputType identifies where the source audio comes from.
type InputType string

const (
	InputUpload InputType = "upload"
	InputFetch  InputType = "fetch"
)

// Job is the durable record of one audio-to-notation request.
type Job struct {
	ID              string
	Status          Status
	Progress        int
	InputType       InputType
	UploadFilename  string
	FetchURL        string
	Title           string
	UserTempo       *int
	WebhookURL      string
	SourceFile      string
	DetectedTempo   *float64
	TempoUnreliable bool
	DurationSeconds *float64
	ConfidenceScore *float64
	HitSummary      map[string]int
	Warnings        []string
	NotationPath    string
	SecondaryPath   string
	ComputeTimeMs   *int64
	ModelVersion    string
	ErrorMessage    string
	TaskHandle      string
	UserIdentifier  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Patch lists the fields an update should change. Nil fields are left alone.
// An empty TaskHandle or path string clears the column.
type Patch struct {
	Status          *Status
	Progress        *int
	SourceFile      *string
	DetectedTempo   *float64
	TempoUnreliable *bool
	DurationSeconds *float64
	ConfidenceScore *float64
	HitSummary      map[string]int
	Warnings        []string
	NotationPath    *string
	SecondaryPath   *string
	ComputeTimeMs   *int64
	ModelVersion    *string
	ErrorMessage    *string
	TaskHandle      *string
}

// Merge overlays other onto p; fields set in other win.
func (p Patch) Merge(other Patch) Patch {
	if other.Status != nil {
		p.Status = other.Status
	}
	if other.Progress != nil {
		p.Progress = other.Progress
	}
	if other.SourceFile != nil {
		p.SourceFile = other.SourceFile
	}
	if other.DetectedTempo != nil {
		p.DetectedTempo = other.DetectedTempo
	}
	if other.TempoUnreliable != nil {
		p.TempoUnreliable = other.TempoUnreliable
	}
	if other.DurationSeconds != nil {
		p.DurationSeconds = other.DurationSeconds
	}
	if other.ConfidenceScore != nil {
		p.ConfidenceScore = other.ConfidenceScore
	}
	if other.HitSummary != nil {
		p.HitSummary = other.HitSummary
	}
	if other.Warnings != nil {
		p.Warnings = other.Warnings
	}
	if other.NotationPath != nil {
		p.NotationPath = other.NotationPath
	}
	if other.SecondaryPath != nil {
		p.SecondaryPath = other.SecondaryPath
	}
	if other.ComputeTimeMs != nil {
		p.ComputeTimeMs = other.ComputeTimeMs
	}
	if other.ModelVersion != nil {
		p.ModelVersion = other.ModelVersion
	}
	if other.ErrorMessage != nil {
		p.ErrorMessage = other.ErrorMessage
	}
	if other.TaskHandle != nil {
		p.TaskHandle = other.TaskHandle
	}
	return p
}

// Filter narrows List results.
type Filter struct {
	Statuses []Status
	User     string
	Limit    int
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
