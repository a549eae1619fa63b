package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/vietddude/explorer/internal/indexing/backfill"
	"github.com/vietddude/explorer/internal/indexing/integrity"
	"github.com/vietddude/explorer/internal/indexing/syncproc"
	"github.com/vietddude/explorer/internal/infra/queue"
)

// Server provides HTTP endpoints for health monitoring and manual job triggers.
type Server struct {
	monitor *Monitor
	queue   queue.Enqueuer
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, q queue.Enqueuer, port int) *Server {
	s := &Server{
		monitor: monitor,
		queue:   q,
		log:     slog.Default().With("component", "http"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           cors.Default().Handler(s.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the route table without CORS.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", s.handleDetailed).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/workspaces/{id:[0-9]+}/integrity-check", s.handleIntegrityCheck).Methods(http.MethodPost)
	r.HandleFunc("/explorers/{slug}/sync-process", s.handleSyncProcess).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id:[0-9]+}/native-transfers", s.handleNativeTransfers).Methods(http.MethodPost)
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	name := integrity.JobName(id)
	s.enqueue(w, r, queue.TypeIntegrityCheck, name, integrity.Payload{WorkspaceID: id})
}

func (s *Server) handleSyncProcess(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	reset := r.URL.Query().Get("reset") == "true"
	name := syncproc.JobName(slug)
	if reset {
		name = queue.Name(queue.TypeUpdateExplorerSyncingProcess, slug, "reset")
	}
	s.enqueue(w, r, queue.TypeUpdateExplorerSyncingProcess, name, syncproc.Payload{ExplorerSlug: slug, Reset: reset})
}

func (s *Server) handleNativeTransfers(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	name := backfill.TransfersJobName(id)
	s.enqueue(w, r, queue.TypeProcessNativeTokenTransfers, name, backfill.TransfersPayload{TransactionID: id})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, jobType, name string, payload any) {
	if err := s.queue.Enqueue(r.Context(), jobType, name, payload, queue.WithPriority(queue.PriorityHighest)); err != nil {
		s.log.Error("Failed to enqueue job", "type", jobType, "name", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.log.Info("Job requested", "type", jobType, "name", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
