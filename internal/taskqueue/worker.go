package taskqueue

import (
	"context"
	"errors"
)

// worker drains pending tasks until Close
func (qm *QueueManager) worker() {
	defer close(qm.done)
	qm.logger.Debug("worker started")
	defer qm.logger.Debug("worker stopped")

	for {
		task, snapshot, ctx := qm.next()
		if task == nil {
			select {
			case <-qm.baseCtx.Done():
				return
			case <-qm.wake:
				continue
			}
		}

		qm.logger.Info("executing task", "task", snapshot.ID, "name", snapshot.Name)
		res, err := qm.executor.Execute(ctx, snapshot)
		qm.finish(task, ctx, res, err)
	}
}

// next claims the highest-priority pending task, earliest queued first
func (qm *QueueManager) next() (*CompareTask, CompareTask, context.Context) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if qm.isPaused || qm.baseCtx.Err() != nil {
		return nil, CompareTask{}, nil
	}
	var task *CompareTask
	for _, id := range qm.taskOrder {
		t := qm.tasks[id]
		if t.Status == TaskStatusPending && (task == nil || t.Priority > task.Priority) {
			task = t
		}
	}
	if task == nil {
		return nil, CompareTask{}, nil
	}

	ctx, cancel := context.WithCancel(qm.baseCtx)
	task.markStarted(qm.now())
	qm.current, qm.cancelCur = task, cancel
	qm.saveTaskLocked(task)
	return task, *task, ctx
}

func (qm *QueueManager) finish(task *CompareTask, ctx context.Context, res TaskResult, err error) {
	qm.mu.Lock()
	if qm.cancelCur != nil {
		qm.cancelCur()
	}
	qm.current, qm.cancelCur = nil, nil

	switch {
	case task.Status == TaskStatusCancelled:
		// cancelled through CancelTask while running
	case err != nil && qm.baseCtx.Err() != nil:
		task.Status = TaskStatusPending
		task.StartedAt = nil
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		task.markCancelled(qm.now())
	case err != nil:
		task.markFailed(qm.now(), err)
		qm.logger.Warn("task failed", "task", task.ID, "error", err)
	default:
		task.markCompleted(qm.now(), res)
		qm.logger.Info("task completed", "task", task.ID, "changed_pct", res.ChangedPercent)
	}
	qm.saveTaskLocked(task)
	snapshot := *task
	callback := qm.onTaskComplete
	qm.mu.Unlock()

	if callback != nil && snapshot.Finished() {
		callback(snapshot)
	}
}
