package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobKind names the operation a job runs.
type JobKind string

const (
	JobKindMonteCarlo JobKind = "montecarlo"
	JobKindBacktest   JobKind = "backtest"
)

// Job is one async simulation request and its outcome.
type Job struct {
	ID        string      `json:"id"`
	Kind      JobKind     `json:"kind"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted"`
	Started   time.Time   `json:"started,omitempty"`
	Finished  time.Time   `json:"finished,omitempty"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result,omitempty"`

	cancel context.CancelFunc
}

// jobRegistry tracks jobs by ID.
type jobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*Job)}
}

// create registers a pending job.
func (r *jobRegistry) create(kind JobKind) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    JobPending,
		Submitted: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job
}

// get returns a copy of the job, safe to marshal without holding the lock.
func (r *jobRegistry) get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// markRunning transitions pending -> running and installs the cancel hook.
// It reports false when the job was cancelled before it started.
func (r *jobRegistry) markRunning(id string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != JobPending {
		return false
	}
	job.Status = JobRunning
	job.Started = time.Now().UTC()
	job.cancel = cancel
	return true
}

// complete stores the result of a finished job.
func (r *jobRegistry) complete(id string, result interface{}) {
	r.finish(id, JobCompleted, "", result)
}

// fail stores the error of a failed job. A job cancelled mid-run stays
// cancelled even though the run returns a context error.
func (r *jobRegistry) fail(id string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	if job.Status == JobCancelled {
		job.Finished = time.Now().UTC()
		return
	}
	job.Status = JobFailed
	job.Error = errMsg
	job.Finished = time.Now().UTC()
}

func (r *jobRegistry) finish(id string, status JobStatus, errMsg string, result interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status == JobCancelled {
		return
	}
	job.Status = status
	job.Error = errMsg
	job.Result = result
	job.Finished = time.Now().UTC()
}

// requestCancel cancels a pending or running job. It reports whether the
// job exists and whether it could still be cancelled.
func (r *jobRegistry) requestCancel(id string) (found, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, false
	}
	switch job.Status {
	case JobPending, JobRunning:
		job.Status = JobCancelled
		if job.cancel != nil {
			job.cancel()
		}
		return true, true
	default:
		return true, false
	}
}
