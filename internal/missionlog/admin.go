package missionlog

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gridrover/internal/httputil"
)

// AttachAdminRoutes mounts the mission browser and a tailsql console on the
// tsweb debug mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Mission log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("backup", "Download a backup of the mission log", func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("missions-backup-%d.db", time.Now().UnixNano()))
		if err := s.Backup(backupPath); err != nil {
			httputil.InternalServerError(w, err)
			return
		}
		defer os.Remove(backupPath)
		w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
	})

	debug.HandleFunc("missions", "Recent missions (JSON, ?limit=N, ?id=ID for events)", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id != "" {
			s.serveMission(w, id)
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		missions, err := s.Missions(limit)
		if err != nil {
			httputil.InternalServerError(w, err)
			return
		}
		httputil.WriteJSONOK(w, missions)
	})
	return nil
}

func (s *Store) serveMission(w http.ResponseWriter, id string) {
	ms, err := s.MissionByID(id)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	events, err := s.Events(id)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, struct {
		Mission MissionSummary `json:"mission"`
		Events  []EventRecord  `json:"events"`
	}{ms, events})
}
