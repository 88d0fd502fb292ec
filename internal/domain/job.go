package domain

// JobType identifies the kind of asynchronous work a job performs
type JobType string

const (
	JobTypeVideoGeneration   JobType = "video_generation"
	JobTypeVideoExtension    JobType = "video_extension"
	JobTypeVideoStitch       JobType = "video_stitch"
	JobTypeVideoExport       JobType = "video_export"
	JobTypePromptEnhancement JobType = "prompt_enhancement"
	JobTypeFaceAnalysis      JobType = "face_analysis"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MaxExtensions is the longest allowed extension chain
const MaxExtensions = 20

// Job is an asynchronous generation unit tied to one node. Jobs are not
// part of the graph; their state is mirrored onto the owning node.
type Job struct {
	ID              string         `json:"job_id"`
	NodeID          string         `json:"node_id"`
	Type            JobType        `json:"type"`
	Status          JobStatus      `json:"status"`
	Progress        int            `json:"progress"`
	Stage           string         `json:"stage,omitempty"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// JobProgress is a pushed progress notification for a node's job
type JobProgress struct {
	NodeID   string    `json:"node_id"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
}
