// Package hook exposes the reconciler as an HTTP pre-create hook.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/reconcile"
)

const maxBody = 1 << 20

// Server serves the time entry hook.
type Server struct {
	rec *reconcile.Reconciler
	log zerolog.Logger
	mux *http.ServeMux
}

// Response is returned for a reconciled candidate.
type Response struct {
	// Entry is the candidate as the host should commit it.
	Entry   model.TimeEntry `json:"entry"`
	Created []string        `json:"created"`
	Queried bool            `json:"queried"`
	// Committed is true when the hook also stored the candidate.
	Committed bool `json:"committed"`
}

// NewServer constructs a Server around rec.
func NewServer(rec *reconcile.Reconciler, log zerolog.Logger) *Server {
	s := &Server{
		rec: rec,
		log: log,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", "http://"+addr).Msg("starting hook server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down hook server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /hooks/timeentry", s.handleTimeEntry)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleTimeEntry reconciles the posted candidate. With ?commit=true the
// candidate is also stored; otherwise the caller commits the returned entry.
func (s *Server) handleTimeEntry(w http.ResponseWriter, r *http.Request) {
	commit := false
	if v := r.URL.Query().Get("commit"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid commit parameter")
			return
		}
		commit = b
	}

	var candidate model.TimeEntry
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid time entry: "+err.Error())
		return
	}
	if candidate.ResourceRef == uuid.Nil {
		writeError(w, http.StatusBadRequest, "time entry has no resource")
		return
	}
	if candidate.Start.IsZero() || candidate.End.IsZero() {
		writeError(w, http.StatusBadRequest, "time entry needs start and end")
		return
	}
	candidate.ID = ""

	var (
		res reconcile.Result
		err error
	)
	if commit {
		res, err = s.rec.Commit(r.Context(), &candidate)
	} else {
		res, err = s.rec.Execute(r.Context(), &candidate)
	}
	if err != nil {
		s.writeFailure(w, err, res)
		return
	}

	created := res.Created
	if created == nil {
		created = []string{}
	}
	writeJSON(w, http.StatusOK, Response{
		Entry:     candidate,
		Created:   created,
		Queried:   res.Queried,
		Committed: commit,
	})
}

func (s *Server) writeFailure(w http.ResponseWriter, err error, res reconcile.Result) {
	switch {
	case errors.Is(err, reconcile.ErrAllDatesOccupied):
		writeError(w, http.StatusConflict, reconcile.NothingToCreate)
	case errors.Is(err, reconcile.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reconcile.ErrStore):
		if len(res.Created) > 0 {
			s.log.Warn().Strs("created", res.Created).Msg("time entries created before failure were kept")
		}
		writeError(w, http.StatusBadGateway, reconcile.ErrStore.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
