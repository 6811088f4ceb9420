package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/TimeWtr/probe_scheduler/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// JobStore 已持久化任务的查询
type JobStore interface {
	ListByType(ctx context.Context, typ _const.MeasurementType) ([]*probe.Job, error)
}

type Option func(s *Server)

// WithRateLimit 限制提交和调度接口的速率
func WithRateLimit(perSec, burst int) Option {
	return func(s *Server) {
		if perSec <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = perSec
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

func WithJobStore(store JobStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

type Server struct {
	scheduler probe.Scheduler
	store     JobStore
	logger    probe.Logger
	limiter   *rate.Limiter
	now       func() time.Time
	router    chi.Router
}

func New(scheduler probe.Scheduler, logger probe.Logger, opts ...Option) *Server {
	s := &Server{
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
		router:    chi.NewRouter(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = probe.NewNopLogger()
	}

	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	limited := func(r chi.Router) chi.Router {
		if s.limiter == nil {
			return r
		}
		return r.With(rateLimitMiddleware(s.limiter))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			limited(r).Post("/", s.handleSubmitJob)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
			})
		})
		r.Get("/store/jobs", s.handleListStoredJobs)
		limited(r).Post("/schedule", s.handleSchedule)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "healthy"})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if err := req.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}

	job := req.ToJob(s.now())
	if err := s.scheduler.Submit(r.Context(), job); err != nil {
		respondErr(w, r, err)
		return
	}
	respondCreated(w, r, domain.FromJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	typ, ok := parseType(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("unknown measurement type %q", r.URL.Query().Get("type")))
		return
	}

	jobs, err := s.scheduler.Jobs(r.Context(), typ)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, r, domain.FromJobs(jobs))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Job(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, r, domain.FromJob(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.scheduler.Remove(r.Context(), key); err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, r, map[string]string{"key": key})
}

// handleListStoredJobs 按类型查询存储中的任务，包括已经从注册表移除的
func (s *Server) handleListStoredJobs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, r, http.StatusNotImplemented, "no_store",
			fmt.Errorf("job store not configured"))
		return
	}
	typ, ok := parseType(r)
	if !ok || typ == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("query parameter type is required"))
		return
	}

	jobs, err := s.store.ListByType(r.Context(), typ)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, r, domain.FromJobs(jobs))
}

// handleSchedule 立即执行一轮调度
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	// 下发在请求结束后继续进行
	plan, err := s.scheduler.RunPass(context.WithoutCancel(r.Context()))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, r, domain.FromPlan(plan))
}

// parseType 未指定类型时返回空值
func parseType(r *http.Request) (_const.MeasurementType, bool) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return "", true
	}
	return _const.ParseMeasurementType(raw)
}
