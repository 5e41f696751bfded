// Package taskqueue runs queued comparisons one at a time in the background
// and persists them so the queue survives restarts
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
	ErrTaskRunning  = errors.New("task is running")
)

// Executor runs one task
type Executor interface {
	Execute(ctx context.Context, task CompareTask) (TaskResult, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, task CompareTask) (TaskResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, task CompareTask) (TaskResult, error) {
	return f(ctx, task)
}

// QueueState is the persisted queue layout
type QueueState struct {
	TaskOrder []string `json:"taskOrder"`
	IsPaused  bool     `json:"isPaused"`
}

// QueueStatus is a snapshot of the queue
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	IsPaused       bool   `json:"isPaused"`
	CurrentTaskID  string `json:"currentTaskId,omitempty"`
	TotalTasks     int    `json:"totalTasks"`
	PendingTasks   int    `json:"pendingTasks"`
	CompletedTasks int    `json:"completedTasks"`
	FailedTasks    int    `json:"failedTasks"`
}

// QueueManager owns the task list and the single worker that drains it
type QueueManager struct {
	mu          sync.Mutex
	tasks       map[string]*CompareTask
	taskOrder   []string
	storagePath string
	executor    Executor

	isRunning bool
	isPaused  bool
	closed    bool
	current   *CompareTask
	cancelCur context.CancelFunc

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wake       chan struct{}
	done       chan struct{}

	onTaskComplete func(CompareTask)
	now            func() time.Time
	logger         *slog.Logger
}

// NewQueueManager opens the queue stored under storagePath. Tasks that were
// running when the process stopped go back to pending.
func NewQueueManager(storagePath string, executor Executor, logger *slog.Logger) (*QueueManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	qm := &QueueManager{
		tasks:       make(map[string]*CompareTask),
		storagePath: storagePath,
		executor:    executor,
		baseCtx:     ctx,
		cancelBase:  cancel,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With("component", "taskqueue"),
	}
	if err := qm.loadState(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	return qm, nil
}

// SetOnTaskComplete registers a callback invoked after each task finishes
func (qm *QueueManager) SetOnTaskComplete(fn func(CompareTask)) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.onTaskComplete = fn
}

func (qm *QueueManager) paths() (queueFile, tasksDir string) {
	return filepath.Join(qm.storagePath, "queue.json"), filepath.Join(qm.storagePath, "tasks")
}

func (qm *QueueManager) loadState() error {
	queueFile, tasksDir := qm.paths()
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return err
	}

	var state QueueState
	if data, err := os.ReadFile(queueFile); err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			qm.logger.Warn("ignoring corrupt queue state", "file", queueFile, "error", err)
		}
	}
	qm.isPaused = state.IsPaused

	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		task, err := LoadFromFile(filepath.Join(tasksDir, entry.Name()))
		if err != nil {
			qm.logger.Warn("skipping task file", "file", entry.Name(), "error", err)
			continue
		}
		if task.Status == TaskStatusRunning {
			task.Status = TaskStatusPending
			task.StartedAt = nil
		}
		qm.tasks[task.ID] = task
	}

	// Keep the persisted order, dropping ids without a file and appending
	// files missing from the order
	seen := make(map[string]bool, len(qm.tasks))
	for _, id := range state.TaskOrder {
		if _, ok := qm.tasks[id]; ok && !seen[id] {
			qm.taskOrder = append(qm.taskOrder, id)
			seen[id] = true
		}
	}
	for id := range qm.tasks {
		if !seen[id] {
			qm.taskOrder = append(qm.taskOrder, id)
		}
	}

	qm.logger.Debug("queue loaded", "tasks", len(qm.tasks), "dir", qm.storagePath)
	return nil
}

func (qm *QueueManager) saveStateLocked() error {
	queueFile, _ := qm.paths()
	data, err := json.MarshalIndent(QueueState{TaskOrder: qm.taskOrder, IsPaused: qm.isPaused}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}
	return os.WriteFile(queueFile, data, 0644)
}

func (qm *QueueManager) saveTaskLocked(task *CompareTask) {
	_, tasksDir := qm.paths()
	if err := task.SaveToFile(tasksDir); err != nil {
		qm.logger.Error("failed to persist task", "task", task.ID, "error", err)
	}
}

func (qm *QueueManager) signal() {
	select {
	case qm.wake <- struct{}{}:
	default:
	}
}

// AddTask appends a pending task
func (qm *QueueManager) AddTask(task *CompareTask) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if _, exists := qm.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already queued", task.ID)
	}
	task.Status = TaskStatusPending

	_, tasksDir := qm.paths()
	if err := task.SaveToFile(tasksDir); err != nil {
		return err
	}
	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)
	if err := qm.saveStateLocked(); err != nil {
		return err
	}

	qm.signal()
	qm.logger.Info("task queued", "task", task.ID, "name", task.Name, "priority", task.Priority)
	return nil
}

// GetTask returns a copy of the task with id
func (qm *QueueManager) GetTask(id string) (CompareTask, error) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	task, ok := qm.tasks[id]
	if !ok {
		return CompareTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// GetAllTasks returns copies of all tasks in queue order
func (qm *QueueManager) GetAllTasks() []CompareTask {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	out := make([]CompareTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		out = append(out, *qm.tasks[id])
	}
	return out
}

// CancelTask cancels a pending task or stops a running one
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, ok := qm.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Finished() {
		return fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, task.Status)
	}

	task.markCancelled(qm.now())
	if qm.current == task && qm.cancelCur != nil {
		qm.cancelCur()
	}
	qm.saveTaskLocked(task)
	qm.logger.Info("task cancelled", "task", id)
	return nil
}

// DeleteTask removes a task that is not running
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, ok := qm.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status == TaskStatusRunning {
		return fmt.Errorf("%w: cancel %s first", ErrTaskRunning, id)
	}
	qm.removeLocked(task)
	return qm.saveStateLocked()
}

func (qm *QueueManager) removeLocked(task *CompareTask) {
	order := qm.taskOrder[:0]
	for _, id := range qm.taskOrder {
		if id != task.ID {
			order = append(order, id)
		}
	}
	qm.taskOrder = order
	delete(qm.tasks, task.ID)

	_, tasksDir := qm.paths()
	if err := task.DeleteFile(tasksDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		qm.logger.Warn("failed to delete task file", "task", task.ID, "error", err)
	}
}

// ClearCompleted removes finished tasks and returns how many were removed
func (qm *QueueManager) ClearCompleted() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	var finished []*CompareTask
	for _, id := range qm.taskOrder {
		if t := qm.tasks[id]; t.Finished() {
			finished = append(finished, t)
		}
	}
	for _, t := range finished {
		qm.removeLocked(t)
	}
	if err := qm.saveStateLocked(); err != nil {
		qm.logger.Error("failed to save queue state", "error", err)
	}
	return len(finished)
}

// Start launches the worker. Calling it again is a no-op.
func (qm *QueueManager) Start() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if qm.isRunning || qm.closed {
		return
	}
	qm.isRunning = true
	go qm.worker()
	qm.logger.Info("queue started", "pending", qm.countLocked(TaskStatusPending))
}

// Pause stops picking new tasks; the running task continues
func (qm *QueueManager) Pause() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.isPaused = true
	if err := qm.saveStateLocked(); err != nil {
		qm.logger.Error("failed to save queue state", "error", err)
	}
}

// Resume undoes Pause
func (qm *QueueManager) Resume() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.isPaused = false
	if err := qm.saveStateLocked(); err != nil {
		qm.logger.Error("failed to save queue state", "error", err)
	}
	qm.signal()
}

// GetStatus returns a snapshot of the queue
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	st := QueueStatus{
		IsRunning:      qm.isRunning,
		IsPaused:       qm.isPaused,
		TotalTasks:     len(qm.tasks),
		PendingTasks:   qm.countLocked(TaskStatusPending),
		CompletedTasks: qm.countLocked(TaskStatusCompleted),
		FailedTasks:    qm.countLocked(TaskStatusFailed),
	}
	if qm.current != nil {
		st.CurrentTaskID = qm.current.ID
	}
	return st
}

func (qm *QueueManager) countLocked(status TaskStatus) int {
	n := 0
	for _, t := range qm.tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Close stops the worker. A task interrupted by Close goes back to pending.
func (qm *QueueManager) Close() {
	qm.mu.Lock()
	if qm.closed {
		qm.mu.Unlock()
		return
	}
	qm.closed = true
	running := qm.isRunning
	qm.mu.Unlock()

	qm.cancelBase()
	if running {
		<-qm.done
	}
}
