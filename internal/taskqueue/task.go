package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/batikanor/geoproof/internal/compare"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskResult summarises a finished comparison
type TaskResult struct {
	ComparisonID   string   `json:"comparisonId"`
	ChangedPercent float64  `json:"changedPercent"`
	ChangedAreaKm2 float64  `json:"changedAreaKm2"`
	Files          []string `json:"files,omitempty"`
}

// CompareTask is one queued comparison
type CompareTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"` // higher runs first
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Request compare.Request `json:"request"`
	Result  *TaskResult     `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewCompareTask creates a pending task
func NewCompareTask(name string, req compare.Request) *CompareTask {
	return &CompareTask{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
		Request:   req,
	}
}

// Finished reports whether the task reached a terminal status
func (t *CompareTask) Finished() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// SaveToFile persists the task to {dir}/{id}.json
func (t *CompareTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadFromFile loads a task from a JSON file
func LoadFromFile(path string) (*CompareTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var task CompareTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *CompareTask) DeleteFile(dir string) error {
	return os.Remove(filepath.Join(dir, t.ID+".json"))
}

func (t *CompareTask) markStarted(now time.Time) {
	t.StartedAt = &now
	t.Status = TaskStatusRunning
}

func (t *CompareTask) markCompleted(now time.Time, res TaskResult) {
	t.CompletedAt = &now
	t.Status = TaskStatusCompleted
	t.Result = &res
}

func (t *CompareTask) markFailed(now time.Time, err error) {
	t.CompletedAt = &now
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

func (t *CompareTask) markCancelled(now time.Time) {
	t.CompletedAt = &now
	t.Status = TaskStatusCancelled
}
