package main

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/lasercut/internal/config"
	"github.com/banshee-data/lasercut/internal/db"
	"github.com/banshee-data/lasercut/internal/jobfile"
)

// runJobFile connects, plots one job file, waits for the board and
// disconnects. The job is recorded in the history database.
func runJobFile(ctx context.Context, cfg *config.DeviceConfig, path string, writeSettings bool, out io.Writer) error {
	f, err := jobfile.Load(path)
	if err != nil {
		return err
	}
	m, err := newMachine(cfg)
	if err != nil {
		return err
	}
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	defer database.Close()

	if err := m.start(writeSettings); err != nil {
		return err
	}
	defer m.stop()

	recCtx, stopRecording := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(recCtx)
	_, recordEvents := m.record(recCtx, database)
	g.Go(recordEvents)

	job, err := m.runJob(ctx, f)
	stopRecording()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if job != nil {
		fmt.Fprintf(out, "job %s %s in %s\n", job.Name, job.Status, job.Duration())
	}
	return err
}
