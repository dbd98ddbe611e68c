package models

import "time"

// JobPhase represents where a generation job is in its lifecycle
type JobPhase string

const (
	PhaseIdle       JobPhase = "idle"
	PhaseSubmitting JobPhase = "submitting"
	PhaseRunning    JobPhase = "running"
	PhaseSucceeded  JobPhase = "succeeded"
	PhaseFailed     JobPhase = "failed"
	PhaseTimedOut   JobPhase = "timed_out"
)

// Terminal reports whether no further transitions can occur from p
func (p JobPhase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut:
		return true
	default:
		return false
	}
}

// GenerationJob is a snapshot of one remote README generation execution
type GenerationJob struct {
	Handle          string            `json:"handle"`
	RepositoryURL   string            `json:"repository_url,omitempty"`
	Phase           JobPhase          `json:"phase"`
	Attempt         int               `json:"attempt"`
	MaxAttempts     int               `json:"max_attempts"`
	Result          *GenerationResult `json:"result,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	ProgressMessage string            `json:"progress_message"`
	SubmittedAt     time.Time         `json:"submitted_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached succeeded, failed or timed_out
func (j GenerationJob) Terminal() bool {
	return j.Phase.Terminal()
}

// GenerationResult is the parsed output of a succeeded execution
type GenerationResult struct {
	ReadmeContent string         `json:"readme_content,omitempty"`
	ReadmeURL     string         `json:"readme_url,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// ExecutionStatus is a single status observation mapped from the job service
type ExecutionStatus struct {
	Phase  JobPhase
	Result *GenerationResult
	Reason string
}

// RecordStatus represents the state of a history record
type RecordStatus string

const (
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
	RecordUnknown    RecordStatus = "unknown"
)

// QualityScore is the coarse quality tier reported by the analysis backend
type QualityScore string

const (
	QualityBasic    QualityScore = "basic"
	QualityStandard QualityScore = "standard"
	QualityPremium  QualityScore = "premium"
)

// HistoryRecord is the canonical shape of a past generation
type HistoryRecord struct {
	RequestID string `json:"requestId"`
	RepoID    string `json:"repoId,omitempty"`

	RepoName  string `json:"repoName"`
	RepoURL   string `json:"repoUrl"`
	RepoOwner string `json:"repoOwner"`

	Status RecordStatus `json:"status"`

	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	ProcessingTimeSeconds *float64   `json:"processingTimeSeconds,omitempty"`

	ProjectType        string       `json:"projectType"`
	PrimaryLanguage    string       `json:"primaryLanguage"`
	Frameworks         []string     `json:"frameworks"`
	TechStack          []string     `json:"techStack"`
	ConfidenceScore    float64      `json:"confidenceScore"`
	AccuracyPercentage float64      `json:"accuracyPercentage"`
	QualityScore       QualityScore `json:"qualityScore"`
	FilesAnalyzedCount int          `json:"filesAnalyzedCount"`

	InlineContent string `json:"inlineContent,omitempty"`
	ContentURL    string `json:"contentUrl,omitempty"`
	ReadmePreview string `json:"readmePreview,omitempty"`
}

// ID returns the identifier used for per-item lookups, preferring requestId
func (r HistoryRecord) ID() string {
	if r.RequestID != "" {
		return r.RequestID
	}
	return r.RepoID
}

// Matches reports whether id identifies r by either requestId or repoId
func (r HistoryRecord) Matches(id string) bool {
	if id == "" {
		return false
	}
	return r.RequestID == id || r.RepoID == id
}

// ContentSource records which resolution strategy produced README text
type ContentSource string

const (
	SourceInline     ContentSource = "inline"
	SourceBlobStore  ContentSource = "blob-store"
	SourceProxy      ContentSource = "proxy"
	SourcePerItemAPI ContentSource = "per-item-api"
	SourceFallback   ContentSource = "fallback"
)

// ContentResolution is the outcome of resolving a record's README text
type ContentResolution struct {
	Text      string        `json:"text"`
	Source    ContentSource `json:"source"`
	Succeeded bool          `json:"succeeded"`

	// Errors aggregates the failures of the strategies tried before Source.
	Errors error `json:"-"`
}
