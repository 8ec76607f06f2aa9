// Package api exposes the HTTP interface for the monitoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidsentry/internal/drain"
	"vidsentry/internal/governor"
	"vidsentry/internal/lifecycle"
	"vidsentry/internal/monitor"
	"vidsentry/internal/telemetry"
)

// Server wires HTTP handlers to the stores and control components.
type Server struct {
	router    chi.Router
	videos    monitor.VideoStore
	attempts  monitor.AttemptStore
	keywords  monitor.KeywordStore
	channels  monitor.ChannelStore
	lifecycle *lifecycle.Manager
	quota     *governor.Governor
	budget    *governor.Governor
	drainer   *drain.Controller
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	videos monitor.VideoStore,
	attempts monitor.AttemptStore,
	keywords monitor.KeywordStore,
	channels monitor.ChannelStore,
	lc *lifecycle.Manager,
	quota *governor.Governor,
	budget *governor.Governor,
	drainer *drain.Controller,
	logger *zap.Logger,
) *Server {
	s := &Server{
		videos:    videos,
		attempts:  attempts,
		keywords:  keywords,
		channels:  channels,
		lifecycle: lc,
		quota:     quota,
		budget:    budget,
		drainer:   drainer,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/videos", func(r chi.Router) {
			r.Get("/", s.listVideos)
			r.Get("/{video_id}", s.getVideo)
		})
		r.Route("/keywords", func(r chi.Router) {
			r.Get("/", s.listKeywords)
			r.Post("/", s.upsertKeyword)
		})
		r.Get("/channels", s.listChannels)
		r.Get("/budget", s.budgetStatus)
		r.Post("/reconcile", s.reconcile)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports not-ready once drain begins so load balancers stop
// routing new work here during shutdown.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.drainer.Draining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	videos, err := s.videos.ListVideos(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos, "count": len(videos)})
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	video, err := s.videos.GetVideo(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch video")
		return
	}
	attempts, err := s.attempts.ListAttempts(r.Context(), videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"video": video, "attempts": attempts})
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.keywords.ListKeywords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keywords")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords, "count": len(keywords)})
}

type keywordRequest struct {
	Term     string `json:"term"`
	Priority string `json:"priority"`
}

func (s *Server) upsertKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	term := strings.TrimSpace(req.Term)
	if term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	priority := monitor.Priority(strings.ToUpper(req.Priority))
	switch priority {
	case monitor.PriorityHigh, monitor.PriorityMedium, monitor.PriorityLow:
	case "":
		priority = monitor.PriorityMedium
	default:
		writeError(w, http.StatusBadRequest, "priority must be HIGH, MEDIUM, or LOW")
		return
	}

	existing, err := s.keywords.GetKeyword(r.Context(), term)
	if err == nil {
		// Preserve rotation state on priority changes.
		existing.Priority = priority
		if err := s.keywords.UpsertKeyword(r.Context(), existing); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update keyword")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keyword": existing})
		return
	}
	if !errors.Is(err, monitor.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to fetch keyword")
		return
	}

	kw := monitor.KeywordState{Term: term, Priority: priority}
	if err := s.keywords.UpsertKeyword(r.Context(), kw); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create keyword")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"keyword": kw})
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListChannels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels, "count": len(channels)})
}

func (s *Server) budgetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	type status struct {
		Name        string  `json:"name"`
		Limit       float64 `json:"limit"`
		Used        float64 `json:"used"`
		Items       int     `json:"items"`
		Remaining   float64 `json:"remaining"`
		Utilization float64 `json:"utilization"`
	}
	build := func(g *governor.Governor) status {
		used, items := g.DailyTotal(ctx)
		return status{
			Name:        g.Name(),
			Limit:       g.Limit(),
			Used:        used,
			Items:       items,
			Remaining:   g.Remaining(ctx),
			Utilization: g.Utilization(ctx),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search":   build(s.quota),
		"analysis": build(s.budget),
	})
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.lifecycle.Reconcile(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"stuck_attempts": result.StuckAttempts,
		"reset_videos":   result.ResetVideos,
	})
}

func filterFromQuery(r *http.Request) (monitor.VideoFilter, error) {
	q := r.URL.Query()
	filter := monitor.VideoFilter{
		Status:    monitor.VideoStatus(q.Get("status")),
		Tier:      monitor.RiskTier(q.Get("tier")),
		ChannelID: q.Get("channel_id"),
	}
	if raw := q.Get("min_score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return monitor.VideoFilter{}, errors.New("min_score must be a number")
		}
		filter.MinScore = score
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return monitor.VideoFilter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
