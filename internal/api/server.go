// Package api exposes the HTTP surface of the service: health, the
// class leaderboard, and the standing topic. No conversation logic
// lives here, only HTTP handling and JSON serialization.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

const defaultLeaderboardLimit = 20

// TurnStats reports live controller counts without coupling the API
// layer to the turn registry implementation.
type TurnStats interface {
	ActiveControllers() int
}

type Server struct {
	store    interfaces.ConversationStore
	resolver interfaces.SessionResolver
	stats    TurnStats
	router   *http.ServeMux
}

func NewServer(store interfaces.ConversationStore, resolver interfaces.SessionResolver, stats TurnStats) *Server {
	s := &Server{
		store:    store,
		resolver: resolver,
		stats:    stats,
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/leaderboard", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLeaderboard))))
	s.router.Handle("/api/topic", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleTopic))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler for mounting under the main server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type LeaderboardResponse struct {
	Students []types.Identity `json:"students"`
}

type TopicResponse struct {
	Topic   string `json:"topic"`
	Teacher string `json:"teacher"`
}

type SetTopicRequest struct {
	Topic string `json:"topic"`
}

type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Database      string    `json:"database"`
	Conversations int       `json:"active_conversations"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleLeaderboard serves GET /api/leaderboard - students ranked by points.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	students, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		s.sendError(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LeaderboardResponse{Students: students})
}

// handleTopic serves the standing topic: GET reads it, POST lets an
// authenticated teacher set it for their class.
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getTopic(w, r)
	case http.MethodPost:
		s.setTopic(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	topic, teacher, err := s.store.ActiveTopic(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrNoActiveTopic) {
			s.sendError(w, "No topic has been set", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to load topic", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(TopicResponse{Topic: topic, Teacher: teacher})
}

func (s *Server) setTopic(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolver.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		s.sendError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	if identity.Role != types.RoleTeacher {
		s.sendError(w, "Only teachers can set the topic", http.StatusForbidden)
		return
	}

	var req SetTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		s.sendError(w, "Topic is required", http.StatusBadRequest)
		return
	}

	if err := s.store.SetTopic(r.Context(), identity.Email, req.Topic); err != nil {
		s.sendError(w, "Failed to set topic", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(TopicResponse{Topic: req.Topic, Teacher: identity.Email})
}

// healthCheck serves GET /health with database connectivity status.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:        status,
		Timestamp:     time.Now(),
		Database:      dbStatus,
		Conversations: s.stats.ActiveControllers(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// sendError writes the consistent error envelope.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
