package driver

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobAborted   JobStatus = "aborted"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of spooled work.
type Job struct {
	ID   string
	Name string
	// Helper jobs are short interactive actions such as jogging.
	Helper bool

	Started  time.Time
	Finished time.Time
	Status   JobStatus
	Err      error
}

// NewJob returns a job with a fresh ID.
func NewJob(name string) *Job {
	return &Job{ID: uuid.NewString(), Name: name}
}

// Duration is the wall time between start and finish.
func (j *Job) Duration() time.Duration {
	if j.Finished.IsZero() {
		return 0
	}
	return j.Finished.Sub(j.Started)
}

// JobObserver is told about job boundaries.
type JobObserver interface {
	JobStarted(*Job)
	JobFinished(*Job)
}

// Spooler is the part of Driver that RunJob needs.
type Spooler interface {
	JobStart(*Job)
	PlotGroup(*cutcode.CutGroup)
	PlotStart() error
	WaitFinished() error
	JobFinish(*Job)
}

// RunJob plots groups as one job and waits for the device to finish before
// closing it, so faults reported while the tail drains belong to the job.
// Each group is queued once per pass.
func RunJob(s Spooler, job *Job, groups []*cutcode.CutGroup) error {
	s.JobStart(job)
	for _, g := range groups {
		for range max(g.Passes, 1) {
			s.PlotGroup(g)
		}
	}
	err := s.PlotStart()
	if err == nil {
		err = s.WaitFinished()
	}
	s.JobFinish(job)
	return err
}
