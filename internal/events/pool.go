package events

// Event type constants for pool lifecycle events.
const (
	TypeWorkerSpawned  = "worker_spawned"
	TypeWorkerReplaced = "worker_replaced"
	TypeWorkerTimeout  = "worker_timeout"
	TypeWorkerCrashed  = "worker_crashed"
	TypeTaskQueued     = "task_queued"
	TypeTaskDispatched = "task_dispatched"
	TypeTaskCompleted  = "task_completed"
	TypeTaskFailed     = "task_failed"
	TypePoolShutdown   = "pool_shutdown"
)

// WorkerEvent reports a worker slot changing state.
type WorkerEvent struct {
	BaseEvent
	Reason   string `json:"reason,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Pid      int    `json:"pid,omitempty"`
}

// NewWorkerSpawnedEvent reports a new worker joining the pool.
func NewWorkerSpawnedEvent(workerID string, pid int) WorkerEvent {
	return WorkerEvent{
		BaseEvent: NewBaseEvent(TypeWorkerSpawned, workerID),
		Pid:       pid,
	}
}

// NewWorkerReplacedEvent reports a dead worker's slot being refilled.
func NewWorkerReplacedEvent(deadID, reason string) WorkerEvent {
	return WorkerEvent{
		BaseEvent: NewBaseEvent(TypeWorkerReplaced, deadID),
		Reason:    reason,
	}
}

// NewWorkerTimeoutEvent reports a liveness timeout kill.
func NewWorkerTimeoutEvent(workerID string) WorkerEvent {
	return WorkerEvent{
		BaseEvent: NewBaseEvent(TypeWorkerTimeout, workerID),
	}
}

// NewWorkerCrashedEvent reports an abnormal worker exit.
func NewWorkerCrashedEvent(workerID string, exitCode int) WorkerEvent {
	return WorkerEvent{
		BaseEvent: NewBaseEvent(TypeWorkerCrashed, workerID),
		ExitCode:  exitCode,
	}
}

// TaskEvent reports a task moving through the pool.
type TaskEvent struct {
	BaseEvent
	TaskID      string `json:"task_id"`
	Detector    string `json:"detector"`
	Code        string `json:"code,omitempty"`
	IssuesCount int    `json:"issues_count,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// NewTaskQueuedEvent reports a task waiting for an idle worker.
func NewTaskQueuedEvent(taskID, detector string) TaskEvent {
	return TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskQueued, ""),
		TaskID:    taskID,
		Detector:  detector,
	}
}

// NewTaskDispatchedEvent reports a task handed to a worker.
func NewTaskDispatchedEvent(workerID, taskID, detector string) TaskEvent {
	return TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskDispatched, workerID),
		TaskID:    taskID,
		Detector:  detector,
	}
}

// NewTaskCompletedEvent reports a task's success terminal.
func NewTaskCompletedEvent(workerID, taskID, detector string, issuesCount int, durationMs int64) TaskEvent {
	return TaskEvent{
		BaseEvent:   NewBaseEvent(TypeTaskCompleted, workerID),
		TaskID:      taskID,
		Detector:    detector,
		IssuesCount: issuesCount,
		DurationMs:  durationMs,
	}
}

// NewTaskFailedEvent reports a task's failure terminal, whether
// worker-reported or synthesized.
func NewTaskFailedEvent(workerID, taskID, detector, code string) TaskEvent {
	return TaskEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, workerID),
		TaskID:    taskID,
		Detector:  detector,
		Code:      code,
	}
}

// PoolEvent reports pool-wide transitions.
type PoolEvent struct {
	BaseEvent
	Workers int `json:"workers,omitempty"`
}

// NewPoolShutdownEvent reports the pool entering shutdown.
func NewPoolShutdownEvent(workers int) PoolEvent {
	return PoolEvent{
		BaseEvent: NewBaseEvent(TypePoolShutdown, ""),
		Workers:   workers,
	}
}
