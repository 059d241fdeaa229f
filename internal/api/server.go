package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"counselchat/internal/auth"
	"counselchat/internal/conversation"
	"counselchat/internal/logging"
	"counselchat/internal/metrics"
	"counselchat/internal/router"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// Registry is the slice of the socket registry the API reports on
type Registry interface {
	GetStats() map[string]int
}

// ServerConfig collects the server's dependencies.
type ServerConfig struct {
	Conversations interfaces.ConversationManager
	Database      interfaces.DatabaseManager
	Router        interfaces.MessageRouter
	Registry      Registry
	Verifier      auth.Verifier
	// WebSocket is mounted at /ws when set.
	WebSocket http.Handler
	Metrics   *metrics.Relay
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	conversations interfaces.ConversationManager
	dbManager     interfaces.DatabaseManager
	msgRouter     interfaces.MessageRouter
	registry      Registry
	verifier      auth.Verifier
	metrics       *metrics.Relay
	logger        *zap.Logger
	router        *mux.Router
	started       time.Time
}

// NewServer wires routes for the REST surface, health, metrics and sockets.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		conversations: cfg.Conversations,
		dbManager:     cfg.Database,
		msgRouter:     cfg.Router,
		registry:      cfg.Registry,
		verifier:      cfg.Verifier,
		metrics:       cfg.Metrics,
		logger:        logging.OrNop(cfg.Logger).Named("api"),
		router:        mux.NewRouter(),
		started:       time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRelay(nil)
	}

	s.setupRoutes(cfg.WebSocket, cfg.Gatherer)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS applies everywhere; JSON and auth only to the /api subtree
func (s *Server) setupRoutes(ws http.Handler, gatherer prometheus.Gatherer) {
	s.router.Use(s.corsMiddleware, s.metricsMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if ws != nil {
		s.router.Handle("/ws", ws)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware, s.authMiddleware)
	// FUNCTIONAL DISCOVERY: OPTIONS must match a route for the CORS middleware to answer preflights
	api.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/conversations/{roomKey}", s.getConversation).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/conversations/{roomKey}/read", s.markRead).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost, http.MethodOptions)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

// GET /api/conversations - the caller's rooms with unread counts
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	convs, err := s.conversations.ListConversations(r.Context(), p.UserID)
	if err != nil {
		s.logger.Error("list conversations failed", zap.String("user_id", p.UserID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*types.Conversation{}
	}
	s.sendData(w, http.StatusOK, convs)
}

// GET /api/conversations/{roomKey} - full history of one room
// FUNCTIONAL DISCOVERY: A room with no messages yet is returned empty rather
// than 404 so a client can open a conversation before anyone writes
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	roomKey := mux.Vars(r)["roomKey"]

	if !s.authorizeRoom(w, r, roomKey, p.UserID) {
		return
	}

	conv, err := s.conversations.GetConversation(r.Context(), roomKey)
	switch {
	case errors.Is(err, interfaces.ErrConversationNotFound):
		conv = &types.Conversation{RoomKey: roomKey, Messages: []types.Message{}}
	case err != nil:
		s.logger.Error("get conversation failed", zap.String("room_key", roomKey), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to load conversation")
		return
	}
	s.sendData(w, http.StatusOK, conv)
}

// POST /api/messages - persist a message and return the updated conversation
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	var req types.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, types.CodeBadRequest, "invalid JSON")
		return
	}

	// ARCHITECTURAL DISCOVERY: Identity comes from the token; the body may only
	// restate it
	if req.SenderID != p.UserID || req.Sender != p.Role {
		s.sendError(w, http.StatusForbidden, types.CodeForbidden, "sender does not match authenticated user")
		return
	}

	resp, err := s.msgRouter.RouteMessage(r.Context(), &req)
	if err != nil {
		s.sendRouteError(w, err)
		return
	}
	s.sendData(w, http.StatusCreated, resp)
}

// POST /api/conversations/{roomKey}/read - mark the peer's messages read
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	roomKey := mux.Vars(r)["roomKey"]

	var req types.ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, types.CodeBadRequest, "invalid JSON")
		return
	}
	if req.UserID != p.UserID {
		s.sendError(w, http.StatusForbidden, types.CodeForbidden, "cannot mark reads for another user")
		return
	}
	if !s.authorizeRoom(w, r, roomKey, p.UserID) {
		return
	}

	marked, err := s.dbManager.MarkRead(r.Context(), roomKey, p.UserID, time.Now())
	if err != nil {
		s.logger.Error("mark read failed", zap.String("room_key", roomKey), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to mark read")
		return
	}
	s.sendData(w, http.StatusOK, types.ReadResponse{Marked: marked})
}

func (s *Server) authorizeRoom(w http.ResponseWriter, r *http.Request, roomKey, userID string) bool {
	err := s.conversations.ValidateMembership(r.Context(), roomKey, userID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, conversation.ErrNotParticipant):
		s.sendError(w, http.StatusForbidden, types.CodeForbidden, "not a participant of this conversation")
	default:
		s.logger.Error("membership check failed", zap.String("room_key", roomKey), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to check membership")
	}
	return false
}

// sendRouteError maps router failures to envelope codes
func (s *Server) sendRouteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		s.sendError(w, http.StatusTooManyRequests, types.CodeRateLimited, err.Error())
	case errors.Is(err, types.ErrEmptyText),
		errors.Is(err, types.ErrTextTooLarge),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, types.ErrInvalidUserID),
		errors.Is(err, types.ErrMissingParticipant),
		errors.Is(err, types.ErrSameParticipant),
		errors.Is(err, types.ErrNotParticipant),
		errors.Is(err, conversation.ErrInvalidParticipants):
		s.sendError(w, http.StatusBadRequest, types.CodeBadRequest, err.Error())
	case errors.Is(err, conversation.ErrParticipantMismatch):
		s.sendError(w, http.StatusForbidden, types.CodeForbidden, "not a participant of this conversation")
	default:
		s.logger.Error("route message failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to send message")
	}
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	var connections map[string]int
	if s.registry != nil {
		connections = s.registry.GetStats()
	}

	systemInfo := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"started":    humanize.Time(s.started),
	}
	if st, ok := s.conversations.(interface{ Stats() map[string]interface{} }); ok {
		for k, v := range st.Stats() {
			systemInfo[k] = v
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connections,
		System:      systemInfo,
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// sendData writes a success envelope
func (s *Server) sendData(w http.ResponseWriter, code int, data interface{}) {
	env, err := types.NewEnvelope(data)
	if err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, types.CodeInternal, "failed to encode response")
		return
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.NewErrorEnvelope(errCode, message))
}

type principalKey struct{}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey{}).(auth.Principal)
	return p
}

// authMiddleware resolves the bearer token to a principal
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.verifier.Verify(auth.BearerToken(r))
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, types.CodeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
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

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for request metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack lets the socket upgrade pass through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// metricsMiddleware counts requests by route template and status
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
