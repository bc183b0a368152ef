package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/monitoring"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	database, err := NewDB(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func testJob(id string, started time.Time) *driver.Job {
	return &driver.Job{ID: id, Name: "job " + id, Started: started, Status: driver.JobRunning}
}

func TestJobRoundTrip(t *testing.T) {
	database := newTestDB(t)
	start := time.Unix(1000, 0)

	job := testJob("a", start)
	require.NoError(t, database.InsertJob(job))

	got, err := database.Job("a")
	require.NoError(t, err)
	assert.Equal(t, "job a", got.Name)
	assert.Equal(t, "running", got.Status)
	assert.True(t, got.Started.Equal(start))
	assert.True(t, got.Finished.IsZero())

	job.Status = driver.JobFailed
	job.Err = errors.New("write failed")
	job.Finished = start.Add(3 * time.Second)
	require.NoError(t, database.FinishJob(job))

	got, err = database.Job("a")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, "write failed", got.Error)
	assert.True(t, got.Finished.Equal(job.Finished))
}

func TestJobNotFound(t *testing.T) {
	database := newTestDB(t)

	_, err := database.Job("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = database.FinishJob(testJob("missing", time.Unix(1, 0)))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDuplicateJobRejected(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.InsertJob(testJob("a", time.Unix(1, 0))))
	assert.Error(t, database.InsertJob(testJob("a", time.Unix(2, 0))))
}

func TestRecentJobsNewestFirst(t *testing.T) {
	database := newTestDB(t)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, database.InsertJob(testJob(id, time.Unix(int64(100+i), 0))))
	}

	jobs, err := database.RecentJobs(2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)
	assert.Equal(t, "mid", jobs[1].ID)
}

func TestFaults(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.InsertJob(testJob("a", time.Unix(1, 0))))

	_, err := database.InsertFault(Fault{JobID: "a", Kind: "error", Code: 20, Message: "unsupported", Line: "error:20", Recorded: time.Unix(2, 0)})
	require.NoError(t, err)
	_, err = database.InsertFault(Fault{JobID: "a", Kind: "alarm", Code: 1, Message: "hard limit", Recorded: time.Unix(3, 0)})
	require.NoError(t, err)
	_, err = database.InsertFault(Fault{Kind: "alarm", Code: 2, Message: "idle", Recorded: time.Unix(4, 0)})
	require.NoError(t, err)

	faults, err := database.Faults("a")
	require.NoError(t, err)
	require.Len(t, faults, 2)
	assert.Equal(t, "error", faults[0].Kind)
	assert.Equal(t, 20, faults[0].Code)
	assert.Equal(t, "error:20", faults[0].Line)
	assert.Equal(t, "alarm", faults[1].Kind)

	loose, err := database.Faults("")
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, "", loose[0].JobID)

	job, err := database.Job("a")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Faults)
}

func TestFaultForUnknownJobRejected(t *testing.T) {
	database := newTestDB(t)
	_, err := database.InsertFault(Fault{JobID: "ghost", Kind: "error", Recorded: time.Unix(1, 0)})
	assert.Error(t, err, "foreign keys are enforced")
}
