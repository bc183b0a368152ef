package db

import (
	"context"
	"sync"

	"github.com/banshee-data/lasercut/internal/controller"
	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/monitoring"
	"github.com/banshee-data/lasercut/internal/timeutil"
)

// Recorder writes job boundaries and board faults to the database. Attach
// it to a driver with Observe and feed it controller events with Run.
// Storage failures are logged and never interrupt a job.
type Recorder struct {
	db    *DB
	clock timeutil.Clock

	mu      sync.Mutex
	current string
}

func NewRecorder(db *DB, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, clock: clock}
}

func (r *Recorder) JobStarted(job *driver.Job) {
	r.mu.Lock()
	r.current = job.ID
	r.mu.Unlock()
	if err := r.db.InsertJob(job); err != nil {
		monitoring.Logf("job history: %v", err)
	}
}

func (r *Recorder) JobFinished(job *driver.Job) {
	r.mu.Lock()
	if r.current == job.ID {
		r.current = ""
	}
	r.mu.Unlock()
	if err := r.db.FinishJob(job); err != nil {
		monitoring.Logf("job history: %v", err)
	}
}

// CurrentJob returns the id of the running job, or "".
func (r *Recorder) CurrentJob() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run records alarms and errors from events until ctx is done or events
// is closed.
func (r *Recorder) Run(ctx context.Context, events <-chan controller.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Recorder) handle(ev controller.Event) {
	f := Fault{
		JobID:    r.CurrentJob(),
		Code:     ev.Code,
		Line:     ev.Line,
		Recorded: r.clock.Now(),
	}
	switch ev.Kind {
	case controller.EventAlarm:
		f.Kind = "alarm"
		f.Message = controller.AlarmMessage(ev.Code)
	case controller.EventError:
		f.Kind = "error"
		f.Message = controller.ErrorMessage(ev.Code)
	default:
		return
	}
	if _, err := r.db.InsertFault(f); err != nil {
		monitoring.Logf("job history: %v", err)
	}
}
