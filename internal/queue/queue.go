// Package queue runs verification sessions for persisted tasks on a pool of workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentcheck/agentcheck/internal/agent"
	"github.com/agentcheck/agentcheck/internal/audit"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/store"
)

// Result is the outcome of one task.
type Result struct {
	TaskID  string           `json:"task_id"`
	Status  store.TaskStatus `json:"status"`
	Verdict *agent.Verdict   `json:"verdict,omitempty"`
	Log     []audit.Record   `json:"audit_log"`
	Err     error            `json:"-"`
}

// Queue drains PENDING tasks. Each task gets its own session built from a copy
// of Controller; sessions share nothing but the registry and the database.
type Queue struct {
	DB         *store.DB
	Controller *agent.Controller
	// NewClient, if set, supplies a model client per task.
	NewClient func() core.ToolCaller
	Workers   int
}

// New returns a queue with the given worker count (at least one).
func New(db *store.DB, c *agent.Controller, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{DB: db, Controller: c, Workers: workers}
}

// Submit persists seed as a PENDING task and returns its id.
func (q *Queue) Submit(ctx context.Context, seed core.Seed) (string, error) {
	body, err := json.Marshal(seed)
	if err != nil {
		return "", fmt.Errorf("encode seed: %w", err)
	}
	id := uuid.NewString()
	if err := q.DB.CreateTask(ctx, id, seed.Certificate.CertificateID, body); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	log.Printf("[QUEUE] Task %s queued (certificate %q)", id, seed.Certificate.CertificateID)
	return id, nil
}

// Drain runs every PENDING task and returns results in task creation order.
// Per-task failures are reported in Result.Err; the returned error covers
// only failures to read the queue.
func (q *Queue) Drain(ctx context.Context) ([]Result, error) {
	tasks, err := q.DB.ListTasks(ctx, store.TaskPending)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	results := make([]Result, len(tasks))
	workers := q.Workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range tasks {
		g.Go(func() error {
			results[i] = q.process(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("[QUEUE] Drained %d task(s) with %d worker(s)", len(tasks), workers)
	if q.DB.Logs != nil {
		if _, err := q.DB.Logs.Prune(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[QUEUE] Log prune failed: %v", err)
		}
	}
	return results, nil
}

// process runs one task. A cancelled ctx still yields a TERMINATED_CANCELLED
// verdict, so store writes use a context that outlives the cancellation.
func (q *Queue) process(ctx context.Context, task store.Task) Result {
	res := Result{TaskID: task.ID, Status: store.TaskFailed}
	sctx := context.WithoutCancel(ctx)

	var seed core.Seed
	if err := json.Unmarshal(task.Seed, &seed); err != nil {
		res.Err = fmt.Errorf("decode seed: %w", err)
		q.fail(ctx, task.ID, store.TaskPending, "", res.Err)
		return res
	}

	c := *q.Controller
	if q.NewClient != nil {
		c.Client = q.NewClient()
	}
	if c.Mirror == nil {
		c.Mirror = q.DB.AuditMirror()
	}
	if c.LogStore == nil {
		c.LogStore = q.DB.Logs
	}

	sess, err := c.NewSession(seed)
	if err != nil {
		res.Err = err
		q.fail(ctx, task.ID, store.TaskPending, "", err)
		return res
	}
	if err := q.DB.TransitionTask(sctx, task.ID, store.TaskPending, store.TaskInProgress, sess.ID(), ""); err != nil {
		// another worker or process claimed it
		res.Err = err
		return res
	}

	verdict, err := sess.Run(ctx)
	res.Log = sess.SessionLog()
	if err != nil {
		res.Err = err
		q.fail(ctx, task.ID, store.TaskInProgress, sess.ID(), err)
		return res
	}
	res.Verdict = &verdict

	if err := q.saveVerdict(sctx, seed, verdict); err != nil {
		res.Err = fmt.Errorf("save verdict: %w", err)
		q.fail(ctx, task.ID, store.TaskInProgress, sess.ID(), res.Err)
		return res
	}
	if err := q.DB.TransitionTask(sctx, task.ID, store.TaskInProgress, store.TaskCompleted, sess.ID(), ""); err != nil {
		res.Err = err
		return res
	}
	res.Status = store.TaskCompleted
	log.Printf("[QUEUE] Task %s completed: %s", task.ID, verdict.Status)
	return res
}

func (q *Queue) saveVerdict(ctx context.Context, seed core.Seed, v agent.Verdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return q.DB.SaveVerdict(ctx, store.VerdictRecord{
		SessionID:      v.SessionID,
		CertificateID:  seed.Certificate.CertificateID,
		Status:         string(v.Status),
		Confidence:     v.Confidence,
		ReviewRequired: v.ReviewRequired,
		State:          string(v.State),
		Body:           body,
	})
}

// fail marks a task FAILED. A task that never left PENDING is first moved to
// IN_PROGRESS so the lifecycle stays linear.
func (q *Queue) fail(ctx context.Context, id string, from store.TaskStatus, sessionID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	log.Printf("[QUEUE] Task %s failed: %v", id, cause)
	if from == store.TaskPending {
		if err := q.DB.TransitionTask(ctx, id, store.TaskPending, store.TaskInProgress, sessionID, ""); err != nil {
			log.Printf("[QUEUE] Task %s: %v", id, err)
			return
		}
	}
	if err := q.DB.TransitionTask(ctx, id, store.TaskInProgress, store.TaskFailed, sessionID, cause.Error()); err != nil {
		log.Printf("[QUEUE] Task %s: %v", id, err)
	}
	if q.DB.Logs != nil {
		_ = q.DB.Logs.LogError("queue", fmt.Sprintf("task %s: %v", id, cause))
	}
}

// IsModelFailure reports whether a task failed because the model could not be reached.
func IsModelFailure(r Result) bool {
	return errors.Is(r.Err, agent.ErrModelFailure)
}
