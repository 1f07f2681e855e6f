package prover

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/djkazic/zkrollup-go/internal/metrics"
	"github.com/djkazic/zkrollup-go/internal/types"
)

// Server is the coordinator HTTP API workers talk to.
type Server struct {
	store  *Store
	scaler *ScalerOracle
	logger *zap.Logger

	proverTimeout time.Duration

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	httpServer *http.Server
}

// ServerConfig carries the server's construction parameters.
type ServerConfig struct {
	Addr string

	// ProverTimeout is the lease duration granted on assignment and
	// heartbeat.
	ProverTimeout time.Duration

	// GetJobRatePerSecond bounds how often a single worker may poll for
	// jobs; zero disables the limit.
	GetJobRatePerSecond float64
}

// NewServer creates the coordinator server.
func NewServer(store *Store, scaler *ScalerOracle, cfg ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		store:         store,
		scaler:        scaler,
		logger:        logger,
		proverTimeout: cfg.ProverTimeout,
		limiters:      make(map[string]*rate.Limiter),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/get_job", s.withRateLimit(cfg.GetJobRatePerSecond, s.handleGetJob))
	mux.HandleFunc("/working_on", s.handleWorkingOn)
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/stopped", s.handleStopped)
	mux.HandleFunc("/api/internal/prover/replicas", s.handleReplicas)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve listens on the configured address until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Info("prover coordinator listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withRateLimit(perSecond float64, next http.HandlerFunc) http.HandlerFunc {
	if perSecond <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		worker := r.URL.Query().Get("name")
		s.limitersMu.Lock()
		limiter, ok := s.limiters[worker]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
			s.limiters[worker] = limiter
		}
		s.limitersMu.Unlock()
		if !limiter.Allow() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// JobResponse is the assignment returned by /get_job. A zero JobID means no
// job is available.
type JobResponse struct {
	JobID      uint64            `json:"job_id"`
	Type       JobType           `json:"type,omitempty"`
	FirstBlock types.BlockNumber `json:"first_block,omitempty"`
	LastBlock  types.BlockNumber `json:"last_block,omitempty"`
	Payload    string            `json:"payload,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	worker := r.URL.Query().Get("name")
	if worker == "" {
		http.Error(w, "empty name", http.StatusBadRequest)
		return
	}

	job, ok, err := s.store.NextIdleJob(worker, s.proverTimeout)
	if err != nil {
		s.logger.Warn("job assignment failed", zap.Error(err))
		http.Error(w, "storage layer error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, JobResponse{})
		return
	}
	s.logger.Info("assigned job",
		zap.Uint64("job", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("worker", worker))
	writeJSON(w, JobResponse{
		JobID:      job.ID,
		Type:       job.Type,
		FirstBlock: job.FirstBlock,
		LastBlock:  job.LastBlock,
		Payload:    base64.StdEncoding.EncodeToString(job.Payload),
	})
}

// WorkingOnRequest is the /working_on heartbeat body.
type WorkingOnRequest struct {
	JobID  uint64 `json:"job_id"`
	Worker string `json:"worker"`
}

func (s *Server) handleWorkingOn(w http.ResponseWriter, r *http.Request) {
	var req WorkingOnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	err := s.store.Heartbeat(req.JobID, req.Worker, s.proverTimeout)
	switch {
	case errors.Is(err, ErrLeaseExpired):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, "storage layer error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// PublishRequest is the /publish body.
type PublishRequest struct {
	JobID      uint64            `json:"job_id"`
	Worker     string            `json:"worker"`
	FirstBlock types.BlockNumber `json:"first_block"`
	LastBlock  types.BlockNumber `json:"last_block"`
	Data       string            `json:"data"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "malformed proof data", http.StatusBadRequest)
		return
	}

	err = s.store.Publish(req.JobID, req.Worker, data)
	switch {
	case errors.Is(err, ErrDuplicateJobResult):
		metrics.ProofsRejected.WithLabelValues("duplicate").Inc()
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrLeaseExpired):
		metrics.ProofsRejected.WithLabelValues("lease_expired").Inc()
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		s.logger.Warn("publish failed", zap.Uint64("job", req.JobID), zap.Error(err))
		http.Error(w, "storage layer error", http.StatusInternalServerError)
	default:
		if job, ok, _ := s.store.JobByID(req.JobID); ok {
			metrics.ProofsPublished.WithLabelValues(string(job.Type)).Inc()
		}
		s.logger.Info("proof published",
			zap.Uint64("job", req.JobID),
			zap.String("worker", req.Worker))
		w.WriteHeader(http.StatusOK)
	}
}

// StoppedRequest is the /stopped body.
type StoppedRequest struct {
	Worker string `json:"worker"`
}

func (s *Server) handleStopped(w http.ResponseWriter, r *http.Request) {
	var req StoppedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.store.StopWorker(req.Worker); err != nil {
		http.Error(w, "storage layer error", http.StatusInternalServerError)
		return
	}
	s.logger.Info("worker stopped", zap.String("worker", req.Worker))
	w.WriteHeader(http.StatusOK)
}

// ReplicasResponse reports how many prover replicas should exist.
type ReplicasResponse struct {
	Replicas int `json:"replicas"`
}

func (s *Server) handleReplicas(w http.ResponseWriter, r *http.Request) {
	backlog, err := s.store.IdleJobCount()
	if err != nil {
		http.Error(w, "storage layer error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ReplicasResponse{Replicas: s.scaler.Replicas(backlog)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// RunSweeper periodically returns expired leases to the idle pool.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.MarkStaleJobsIdle(); err != nil {
				s.logger.Warn("stale job sweep failed", zap.Error(err))
			}
		}
	}
}
