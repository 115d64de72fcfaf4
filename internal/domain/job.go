package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageState represents the terminal state of a single analysis stage.
type StageState string

const (
	StageStateSuccess StageState = "success"
	StageStateFailed  StageState = "failed"
)

// StageOutcome is the immutable result of one stage run. Written exactly once
// per stage per job; Payload is set on success, Error on failure.
type StageOutcome struct {
	StageName   string          `json:"stage_name"`
	State       StageState      `json:"state"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	CompletedAt time.Time       `json:"completed_at"`
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// StageResultMap stores terminal stage outcomes keyed by stage name,
// serialized as a JSON object column.
type StageResultMap map[string]StageOutcome

// Value implements the driver.Valuer interface for database serialization.
func (m StageResultMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *StageResultMap) Scan(value interface{}) error {
	if value == nil {
		*m = StageResultMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StageResultMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// AnalysisJob represents one multi-stage analysis run over a fixed set of
// documents. The orchestrator is the sole writer of Status; each stage slot in
// StageResults is written exactly once.
type AnalysisJob struct {
	ID           string         `gorm:"type:text;primaryKey" json:"id"`
	DocumentIDs  StringArray    `gorm:"type:text;not null" json:"document_ids"`
	Status       JobStatus      `gorm:"type:text;index:idx_jobs_status;default:pending" json:"status"`
	StageResults StageResultMap `gorm:"type:text" json:"stage_results"`
	Report       *Report        `gorm:"type:text" json:"report,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for AnalysisJob.
func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}
