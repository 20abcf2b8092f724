// Package api exposes simulations and the run history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/microgrid/app"
	"github.com/kilianp07/microgrid/config"
	"github.com/kilianp07/microgrid/core/attribution"
	"github.com/kilianp07/microgrid/core/kpi"
	"github.com/kilianp07/microgrid/core/model"
	corestore "github.com/kilianp07/microgrid/core/store"
	"github.com/kilianp07/microgrid/infra/input"
	"github.com/kilianp07/microgrid/infra/logger"
	"github.com/kilianp07/microgrid/pkg/export"
)

// Simulator is the part of app.Service the API depends on.
type Simulator interface {
	Simulate(ctx context.Context, name string, in model.Inputs) (*app.Result, error)
	History(ctx context.Context, q corestore.RunQuery) ([]corestore.RunRecord, error)
}

// Server serves the HTTP API.
type Server struct {
	sim      Simulator
	sources  []string
	token    string
	maxBody  int64
	gatherer prometheus.Gatherer
	log      logger.Logger
}

// NewServer creates a Server. sources selects the generation columns of
// uploaded CSV files, as in ReadCSV.
func NewServer(sim Simulator, cfg config.APIConfig, sources []string) *Server {
	cfg.SetDefaults()
	return &Server{
		sim:      sim,
		sources:  sources,
		token:    cfg.Token,
		maxBody:  int64(cfg.MaxBodyMB) << 20,
		gatherer: prometheus.DefaultGatherer,
		log:      logger.New("api"),
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/simulate", s.handleSimulate)
	apiMux.HandleFunc("GET /api/runs", s.handleRuns)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{DisableCompression: true}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return gziphandler.GzipHandler(mux)
}

// Serve handles requests on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       30 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.log.Infof("serving API on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSONError(w, "unauthorized", "", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SimulateResponse is the body returned by POST /api/simulate.
type SimulateResponse struct {
	RunID  string             `json:"run_id"`
	Name   string             `json:"name"`
	Steps  int                `json:"steps"`
	KPIs   kpi.Report         `json:"kpis"`
	Flows  []attribution.Flow `json:"flows"`
	Ledger []export.LedgerRow `json:"ledger,omitempty"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "api"
	}
	in, err := input.ReadCSV(http.MaxBytesReader(w, r.Body, s.maxBody), s.sources)
	if err != nil {
		writeJSONError(w, err.Error(), "", http.StatusBadRequest)
		return
	}
	res, err := s.sim.Simulate(r.Context(), name, in)
	if err != nil {
		writeJSONError(w, err.Error(), model.ErrorKind(err), http.StatusUnprocessableEntity)
		return
	}
	resp := SimulateResponse{
		RunID: res.RunID,
		Name:  res.Name,
		Steps: res.Ledger.Len(),
		KPIs:  res.KPIs,
		Flows: res.Flows.Sorted(),
	}
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("ledger")); ok {
		resp.Ledger = export.LedgerRows(res.Ledger)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := corestore.RunQuery{Name: v.Get("name")}
	for key, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		if raw := v.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeJSONError(w, fmt.Sprintf("%s: %v", key, err), "", http.StatusBadRequest)
				return
			}
			*dst = t
		}
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, "limit must be a non-negative integer", "", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}
	recs, err := s.sim.History(r.Context(), q)
	if err != nil {
		writeJSONError(w, err.Error(), "", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []corestore.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg, kind string, code int) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
	}{Error: msg, Kind: kind})
}
