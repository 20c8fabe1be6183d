package inkwell

import (
	"fmt"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

// APIError is the error payload carried inside backend responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// StatusError reports a non-2xx HTTP response from the backend.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NetworkError reports a request that never reached the backend.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ============================================================================
// Tasks and processing status
// ============================================================================

// TaskType identifies which kind of background agent owns a task.
type TaskType string

const (
	TaskWriting          TaskType = "writing"
	TaskAnalysis         TaskType = "analysis"
	TaskResearch         TaskType = "research"
	TaskConsistencyCheck TaskType = "consistency-check"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of background work reported by the backend. Identity is
// the ID; later task-update events with the same ID replace the task in place.
type Task struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"` // 0..100
	Description string     `json:"description"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ProcessingStatus is the backend's view of which agents are active and what
// they are working on. A processing-status event carries a full snapshot; a
// task-update event mutates CurrentTasks only.
type ProcessingStatus struct {
	ActiveAgents        []string   `json:"activeAgents"`
	CurrentTasks        []Task     `json:"currentTasks"`
	QueueLength         int        `json:"queueLength"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion"`
}

// ============================================================================
// Projects and chapters
// ============================================================================

// Project is a novel project's metadata.
type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre"`
	Description     string    `json:"description,omitempty"`
	WordCount       int       `json:"wordCount"`
	TargetWordCount int       `json:"targetWordCount,omitempty"`
	Status          string    `json:"status"` // draft, revision, complete
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
}

// CreateProjectOptions configures a new project.
type CreateProjectOptions struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre,omitempty"`
	Description     string `json:"description,omitempty"`
	TargetWordCount int    `json:"targetWordCount,omitempty"`
}

// Chapter is one chapter of a project.
type Chapter struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	Number       int       `json:"chapterNumber"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	WordCount    int       `json:"wordCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// SaveChapterOptions carries a chapter write.
type SaveChapterOptions struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// HealthInfo is the backend health response.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
