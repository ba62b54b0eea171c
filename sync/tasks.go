package sync

import (
	"github.com/google/uuid"

	"pretalx-rt-sync/utils"
)

// Task kinds executed by the runner.
const (
	TaskPull = "pull"
	TaskPush = "push"
)

// Task is one deferred sync operation, addressed by (event id, ticket id).
type Task struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	EventID  int    `json:"event_id"`
	TicketID int    `json:"ticket_id"`
}

// TaskRunner executes pull and push tasks on a single worker goroutine,
// fire-and-forget. Failed tasks are logged and broadcast to monitoring
// clients; nothing is retried.
type TaskRunner struct {
	engine *Engine
	ws     *WebSocketManager
	queue  chan Task
	stop   chan struct{}
}

// NewTaskRunner creates a runner with the given queue depth.
func NewTaskRunner(engine *Engine, ws *WebSocketManager, depth int) *TaskRunner {
	if depth <= 0 {
		depth = 64
	}
	return &TaskRunner{
		engine: engine,
		ws:     ws,
		queue:  make(chan Task, depth),
		stop:   make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (r *TaskRunner) Start() {
	go r.run()
}

// Stop signals the worker to exit after the task in flight.
func (r *TaskRunner) Stop() {
	close(r.stop)
}

// EnqueuePull schedules an asynchronous pull. If the queue is full the task
// is dropped with a warning; the reconciliation scheduler will pick the
// ticket up by staleness.
func (r *TaskRunner) EnqueuePull(eventID, ticketID int) {
	r.enqueue(Task{ID: uuid.NewString(), Kind: TaskPull, EventID: eventID, TicketID: ticketID})
}

// EnqueuePush schedules an asynchronous push.
func (r *TaskRunner) EnqueuePush(eventID, ticketID int) {
	r.enqueue(Task{ID: uuid.NewString(), Kind: TaskPush, EventID: eventID, TicketID: ticketID})
}

// Pending returns the number of queued tasks.
func (r *TaskRunner) Pending() int {
	return len(r.queue)
}

func (r *TaskRunner) enqueue(task Task) {
	select {
	case r.queue <- task:
	default:
		utils.LogWarn("TASK_QUEUE_FULL", map[string]interface{}{
			"task_id":   task.ID,
			"kind":      task.Kind,
			"event_id":  task.EventID,
			"ticket_id": task.TicketID,
		})
	}
}

func (r *TaskRunner) run() {
	for {
		select {
		case <-r.stop:
			return
		case task := <-r.queue:
			r.execute(task)
		}
	}
}

func (r *TaskRunner) execute(task Task) {
	var err error
	switch task.Kind {
	case TaskPull:
		err = r.engine.Pull(task.EventID, task.TicketID)
	case TaskPush:
		err = r.engine.Push(task.EventID, task.TicketID)
	}

	if err != nil {
		utils.LogError("TASK_FAILED", map[string]interface{}{
			"task_id":   task.ID,
			"kind":      task.Kind,
			"event_id":  task.EventID,
			"ticket_id": task.TicketID,
			"error":     err.Error(),
		})
		r.ws.Broadcast(MsgTypeTaskFailed, map[string]interface{}{
			"task_id":   task.ID,
			"kind":      task.Kind,
			"event_id":  task.EventID,
			"ticket_id": task.TicketID,
			"error":     err.Error(),
		})
	}
}
