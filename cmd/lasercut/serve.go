package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lasercut/internal/config"
	"github.com/banshee-data/lasercut/internal/db"
	"github.com/banshee-data/lasercut/internal/httputil"
	"github.com/banshee-data/lasercut/internal/jobfile"
	"github.com/banshee-data/lasercut/internal/monitoring"
	"github.com/banshee-data/lasercut/internal/security"
)

func serve(ctx context.Context, cfg *config.DeviceConfig, writeSettings bool) error {
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
		// The board may be switched on later; /debug/ routes stay usable
		// and the next write reconnects.
		monitoring.Logf("controller start failed: %v", err)
	}
	defer m.stop()

	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	m.ctl.AttachAdminRoutes(mux)
	m.attachAdminRoutes(mux)

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	_, recordEvents := m.record(ctx, database)
	g.Go(recordEvents)
	g.Go(func() error { return m.work(ctx) })
	g.Go(func() error {
		log.Printf("listening on http://%s/debug/", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		if err := m.drv.Abort(); err != nil {
			log.Printf("abort on shutdown: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Printf("Graceful shutdown complete")
	return err
}

func logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.Logf("got request %q", r.URL.Path)
		h.ServeHTTP(w, r)
	})
}

// maxJobBody bounds job uploads like job files on disk.
const maxJobBody = 1 * 1024 * 1024

// readJob takes the job from ?file= in the jobs directory, or else from the
// request body.
func (m *machine) readJob(w http.ResponseWriter, r *http.Request) (*jobfile.File, int, error) {
	if name := r.URL.Query().Get("file"); name != "" {
		f, err := jobfile.LoadFrom(m.cfg.GetJobsDir(), name)
		switch {
		case errors.Is(err, security.ErrOutsideDirectory):
			return nil, http.StatusForbidden, err
		case errors.Is(err, fs.ErrNotExist):
			return nil, http.StatusNotFound, fmt.Errorf("no job file %q", name)
		case err != nil:
			return nil, http.StatusBadRequest, err
		}
		return f, 0, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJobBody))
	if err != nil {
		return nil, http.StatusRequestEntityTooLarge, errors.New("job too large")
	}
	f, err := jobfile.Parse(body, r.Header.Get("Content-Type"))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid job: %w", err)
	}
	return f, 0, nil
}

// attachAdminRoutes adds job submission and driver control to /debug/.
func (m *machine) attachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("job-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		f, status, err := m.readJob(w, r)
		if err != nil {
			httputil.WriteJSONError(w, status, err.Error())
			return
		}
		job, _, err := m.submit(r.Context(), f)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to queue job: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "name": job.Name})
	})

	debug.HandleSilentFunc("driver-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		var err error
		switch action := r.FormValue("action"); action {
		case "pause":
			err = m.drv.Pause()
		case "resume":
			err = m.drv.Resume()
		case "abort":
			err = m.drv.Abort()
		case "reset":
			err = m.drv.Reset()
		case "home":
			err = m.do(r.Context(), m.drv.PhysicalHome)
		case "beep":
			err = m.drv.Beep()
		case "query":
			err = m.enc.QueryStatus()
		default:
			http.Error(w, fmt.Sprintf("Unknown action %q", action), http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, m.drv.Status()+"\n")
	})

	debug.HandleFunc("driver", "driver mode, laser and position", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, m.drv.Status()+"\n")
	})
}
