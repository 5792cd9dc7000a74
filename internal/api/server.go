package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"classrelay/internal/dispatch"
	"classrelay/internal/lifecycle"
	"classrelay/internal/metrics"
	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
)

// Registry is the slice of the transport registry the API needs.
type Registry interface {
	Stats() map[string]int
}

// Server exposes the HTTP status surface. Classroom state is owned by the
// dispatch loop, so read handlers go through dispatch.Do rather than
// touching the store concurrently.
type Server struct {
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	lifecycle  *lifecycle.Manager
	db         interfaces.ArchiveStore
	registry   Registry
	router     *http.ServeMux
	logger     *zap.Logger
}

// NewServer creates the API server and registers its routes. db may be nil
// when archive persistence is disabled.
func NewServer(
	dispatcher *dispatch.Dispatcher,
	st *store.Store,
	lifecycleMgr *lifecycle.Manager,
	db interfaces.ArchiveStore,
	registry Registry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		dispatcher: dispatcher,
		store:      st,
		lifecycle:  lifecycleMgr,
		db:         db,
		registry:   registry,
		router:     http.NewServeMux(),
		logger:     logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /api/v1/classrooms/{classroomName}",
		s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.getClassroom))))
	s.router.Handle("GET /api/v1/classrooms/{classroomName}/studentSockets/{socketId}",
		s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.getStudentStatus))))
	s.router.Handle("PATCH /api/v1/classrooms/{classroomName}/email/{email}",
		s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.setClassroomEmail))))
	s.router.Handle("GET /health",
		s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("GET /metrics", metrics.Handler())

	// CORS preflights for the API routes.
	s.router.Handle("OPTIONS /api/v1/",
		s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ClassroomStatusResponse struct {
	ClassroomName string `json:"classroomName"`
	IsActive      bool   `json:"isActive"`
}

type StudentStatusResponse struct {
	IsStudentInsideClassroom bool `json:"isStudentInsideClassroom"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Classrooms  map[string]int `json:"classrooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// getClassroom reports whether a classroom is currently active.
func (s *Server) getClassroom(w http.ResponseWriter, r *http.Request) {
	classroomName := r.PathValue("classroomName")

	var isActive bool
	err := s.dispatcher.Do(r.Context(), "api: classroom status", func(ctx context.Context) error {
		isActive = s.store.Classroom(classroomName) != nil
		return nil
	})
	if err != nil {
		s.sendError(w, "Status check unavailable", http.StatusServiceUnavailable)
		return
	}

	_ = json.NewEncoder(w).Encode(ClassroomStatusResponse{
		ClassroomName: classroomName,
		IsActive:      isActive,
	})
}

// getStudentStatus reports whether a connection currently sits in a paired
// chat. Clients poll this after a reconnect to decide whether their chat
// survived.
func (s *Server) getStudentStatus(w http.ResponseWriter, r *http.Request) {
	socketID := r.PathValue("socketId")

	var inside bool
	err := s.dispatcher.Do(r.Context(), "api: student status", func(ctx context.Context) error {
		_, inside = s.store.PairedChatID(socketID)
		return nil
	})
	if err != nil {
		s.sendError(w, "Status check unavailable", http.StatusServiceUnavailable)
		return
	}

	_ = json.NewEncoder(w).Encode(StudentStatusResponse{IsStudentInsideClassroom: inside})
}

// setClassroomEmail registers the address that receives the transcript
// digest at classroom teardown.
func (s *Server) setClassroomEmail(w http.ResponseWriter, r *http.Request) {
	classroomName := r.PathValue("classroomName")
	email := r.PathValue("email")

	err := s.dispatcher.Do(r.Context(), "api: set classroom email", func(ctx context.Context) error {
		return s.lifecycle.SetArchivalEmail(classroomName, email)
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrClassroomNotFound) {
			s.sendError(w, "Classroom not found", http.StatusNotFound)
			return
		}
		s.sendError(w, "Failed to set classroom email", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Classroom email updated"})
}

// healthCheck validates the archive database and reports broker statistics.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	} else {
		dbStatus = "disabled"
	}

	var classroomStats map[string]int
	if err := s.dispatcher.Do(ctx, "api: health", func(ctx context.Context) error {
		classroomStats = s.store.Stats()
		return nil
	}); err != nil {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
		Classrooms:  classroomStats,
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
