package db

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lasercut/internal/httputil"
	"github.com/banshee-data/lasercut/internal/monitoring"
)

// jobDetail is the response for a single job.
type jobDetail struct {
	JobRecord
	FaultList []Fault `json:"fault_list"`
}

// AttachAdminRoutes mounts job history, a tailsql console and a backup
// download under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("jobs", "Recent jobs and their faults (?id=, ?limit=)", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id != "" {
			job, err := db.Job(id)
			if errors.Is(err, ErrJobNotFound) {
				httputil.WriteJSONError(w, http.StatusNotFound, "job not found")
				return
			}
			if err != nil {
				httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load job: %v", err))
				return
			}
			faults, err := db.Faults(id)
			if err != nil {
				httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load faults: %v", err))
				return
			}
			httputil.WriteJSON(w, http.StatusOK, jobDetail{JobRecord: job, FaultList: faults})
			return
		}

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httputil.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		jobs, err := db.RecentJobs(limit)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load jobs: %v", err))
			return
		}
		if jobs == nil {
			jobs = []JobRecord{}
		}
		httputil.WriteJSON(w, http.StatusOK, jobs)
	})

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://lasercut.db", db.DB, &tailsql.DBOptions{
		Label: "Job history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("Failed to write backup: %v", err)
	}
}
