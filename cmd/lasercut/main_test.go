package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lasercut/internal/config"
	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/db"
	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/jobfile"
	"github.com/banshee-data/lasercut/internal/monitoring"
	"github.com/banshee-data/lasercut/internal/testutil"
)

const squareJob = `name: square
operations:
  - type: cut
    speed: 10
    power: 1000
    polylines:
      - points: [[0, 0], [10, 0], [10, 10], [0, 10]]
        closed: true
`

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(""), &out)
	return out.String(), err
}

func TestFlagDefaults(t *testing.T) {
	var o options
	fs := newFlagSet(&o)
	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, options{}, o)

	require.NoError(t, fs.Parse([]string{"--port", "/dev/ttyUSB0", "--mock", "--sync", "run", "job.yaml"}))
	assert.Equal(t, "/dev/ttyUSB0", o.port)
	assert.True(t, o.mock)
	assert.True(t, o.sync)
	assert.Equal(t, []string{"run", "job.yaml"}, fs.Args())
}

func TestHelpAndVersion(t *testing.T) {
	out, err := runCmd(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "run <job>")
	assert.Contains(t, out, "--write-settings")

	out, err = runCmd(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")

	out, err = runCmd(t, "--version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestSettingsCommand(t *testing.T) {
	out, err := runCmd(t, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "$30=1000")
	assert.Contains(t, out, "$32=1")

	out, err = runCmd(t, "settings", "$32", "130")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "$32=1")
	assert.Contains(t, lines[0], "Laser-mode enable")
	assert.Contains(t, lines[1], "$130=200.000")

	_, err = runCmd(t, "settings", "999")
	assert.ErrorContains(t, err, "no default for setting $999")
	_, err = runCmd(t, "settings", "$x")
	assert.ErrorContains(t, err, "invalid setting code")
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t, "--mock", "engrave")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "engrave"`)

	_, err = runCmd(t, "--bogus")
	require.Error(t, err)

	_, err = runCmd(t, "--mock", "run")
	require.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyACM0\nlisten: 0.0.0.0:9000\n"), 0o644))

	cfg, err := loadConfig(&options{configPath: path, listen: "localhost:9999"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.GetPort())
	assert.Equal(t, "localhost:9999", cfg.GetListen())
	assert.False(t, cfg.GetMock())

	_, err = loadConfig(&options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestMachineRequiresPort(t *testing.T) {
	_, err := newMachine(config.EmptyDeviceConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mock")
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	_, err := runCmd(t, "--mock", "--db", dbPath, "migrate", "up")
	require.NoError(t, err)

	out, err := runCmd(t, "--mock", "--db", dbPath, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")
	assert.Contains(t, out, "Dirty: false")
}

func TestRunJobFileWithMock(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "square.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(squareJob), 0o644))
	dbPath := filepath.Join(dir, "jobs.db")

	out, err := runCmd(t, "--mock", "--db", dbPath, "run", jobPath)
	require.NoError(t, err)
	assert.Contains(t, out, "job square completed")

	database, err := db.OpenDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	jobs, err := database.RecentJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "square", jobs[0].Name)
	assert.Equal(t, string(driver.JobCompleted), jobs[0].Status)
}

func TestRunExampleJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	out, err := runCmd(t, "--mock", "--db", dbPath, "run", "../../config/coaster.example.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "job coaster completed")
}

func startMockMachine(t *testing.T) (*machine, *connection.MockConnection) {
	t.Helper()
	cfg := config.EmptyDeviceConfig()
	cfg.Override("", "", "", true, false)
	m, err := newMachine(cfg)
	require.NoError(t, err)
	require.NoError(t, m.start(false))
	t.Cleanup(m.stop)
	return m, m.conn.(*connection.MockConnection)
}

func TestSubmitRunsOnWorker(t *testing.T) {
	m, mock := startMockMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.work(ctx)

	f, err := jobfile.Parse([]byte(squareJob), "application/yaml")
	require.NoError(t, err)
	job, done, err := m.submit(ctx, f)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, driver.JobCompleted, job.Status)
	assert.Contains(t, mock.Lines(), "G1 X10 Y10")
}

func TestWorkerHoldsJobsWhilePaused(t *testing.T) {
	m, mock := startMockMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.work(ctx)

	require.NoError(t, m.drv.Pause())
	f, err := jobfile.Parse([]byte(squareJob), "application/yaml")
	require.NoError(t, err)
	job, done, err := m.submit(ctx, f)
	require.NoError(t, err)

	select {
	case err := <-done:
		t.Fatalf("job ran while paused: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.NotContains(t, mock.Lines(), "G1 X10 Y10")

	// Helpers still run while the job is held.
	ran := false
	require.NoError(t, m.do(ctx, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	require.NoError(t, m.drv.Resume())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run after resume")
	}
	assert.Equal(t, driver.JobCompleted, job.Status)
	assert.Contains(t, mock.Lines(), "G1 X10 Y10")
}

func TestSubmitCancelled(t *testing.T) {
	m, _ := startMockMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := jobfile.Parse([]byte(squareJob), "")
	require.NoError(t, err)
	_, _, err = m.submit(ctx, f)
	require.ErrorIs(t, err, context.Canceled)
}

func TestJobAPI(t *testing.T) {
	m, mock := startMockMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.work(ctx)

	mux := http.NewServeMux()
	m.attachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/job-api", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = testutil.Serve(mux, testutil.LocalHostRequest(http.MethodPost, "/debug/job-api", strings.NewReader("operations: [")))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	req := testutil.LocalHostRequest(http.MethodPost, "/debug/job-api", strings.NewReader(squareJob))
	req.Header.Set("Content-Type", "application/yaml")
	rec = testutil.Serve(mux, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
	var queued map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.Equal(t, "square", queued["name"])
	assert.NotEmpty(t, queued["id"])

	assert.Eventually(t, func() bool {
		for _, l := range mock.Lines() {
			if l == "G1 X0 Y0" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJobAPIFromJobsDir(t *testing.T) {
	m, _ := startMockMachine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "square.yaml"), []byte(squareJob), 0o644))
	m.cfg.JobsDir = &dir

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.work(ctx)

	mux := http.NewServeMux()
	m.attachAdminRoutes(mux)

	tests := []struct {
		file string
		want int
	}{
		{"square.yaml", http.StatusAccepted},
		{"missing.yaml", http.StatusNotFound},
		{"../square.yaml", http.StatusForbidden},
		{"square.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			req := testutil.LocalHostRequest(http.MethodPost, "/debug/job-api?file="+url.QueryEscape(tt.file), nil)
			rec := testutil.Serve(mux, req)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestDriverAPI(t *testing.T) {
	m, mock := startMockMachine(t)
	mux := http.NewServeMux()
	m.attachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.PostForm("/debug/driver-api", url.Values{"action": {"pause"}}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "paused")
	assert.True(t, m.drv.Paused())

	rec = testutil.Serve(mux, testutil.PostForm("/debug/driver-api", url.Values{"action": {"resume"}}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.NotContains(t, rec.Body.String(), "paused")

	assert.Eventually(t, func() bool {
		w := strings.Join(mock.Written(), "")
		return strings.Contains(w, "!") && strings.Contains(w, "~")
	}, 2*time.Second, 10*time.Millisecond)

	rec = testutil.Serve(mux, testutil.PostForm("/debug/driver-api", url.Values{"action": {"jog"}}))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.Serve(mux, testutil.LocalHostRequest(http.MethodGet, "/debug/driver", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "rapid mode, laser off")
}

func TestDriverAPIMachineActions(t *testing.T) {
	m, mock := startMockMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.work(ctx)

	mux := http.NewServeMux()
	m.attachAdminRoutes(mux)
	post := func(action string) *httptest.ResponseRecorder {
		return testutil.Serve(mux, testutil.PostForm("/debug/driver-api", url.Values{"action": {action}}))
	}

	var beeps int
	stop := monitoring.Open("signal").Watch(func(msg string) {
		if msg == "beep" {
			beeps++
		}
	})
	defer stop()

	rec := post("home")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, mock.Lines(), "$H")

	rec = post("beep")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 1, beeps)
	assert.NotContains(t, mock.Lines(), "beep", "beep stays on the host")

	rec = post("query")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Eventually(t, func() bool {
		return strings.Contains(strings.Join(mock.Written(), ""), "?")
	}, 2*time.Second, 10*time.Millisecond)

	resets := mock.Resets()
	rec = post("abort")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Eventually(t, func() bool { return mock.Resets() == resets+1 }, 2*time.Second, 10*time.Millisecond)

	rec = post("reset")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Eventually(t, func() bool { return mock.Resets() == resets+2 }, 2*time.Second, 10*time.Millisecond)
}
