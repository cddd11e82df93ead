package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/tidwall/gjson"

	"github.com/Selina744/group-planner-sub000/realtime"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// Realtime is the administrative surface of the realtime service.
type Realtime interface {
	Stats(ctx context.Context) (realtime.Stats, error)
	RoomMembers(ctx context.Context, room realtime.RoomID) ([]realtime.MemberInfo, error)
	BroadcastToRoom(ctx context.Context, room realtime.RoomID, event string, payload json.RawMessage, excludeUserID string) (int, error)
	NotifyUser(ctx context.Context, userID string, payload json.RawMessage) (int, error)
}

// Options wires the server. Realtime is required; the handlers are mounted
// only when set.
type Options struct {
	Realtime Realtime

	// WebSocket serves /ws.
	WebSocket http.Handler
	// Metrics serves /metrics.
	Metrics http.Handler
	// MCP serves /mcp.
	MCP http.Handler

	// APIKey protects /api. Empty disables the check.
	APIKey       string
	APIKeyHeader string

	AllowedOrigins []string

	// Ready reports dependency health for /healthz.
	Ready func(ctx context.Context) error

	Logger *slog.Logger
}

// Server represents the admin HTTP API
type Server struct {
	rt      Realtime
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *slog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "x-api-key"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		rt:     opts.Realtime,
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger.With("component", "api"),
	}

	s.setupRoutes()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", opts.APIKeyHeader},
	}).Handler(s.router)
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAPIKey)

	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/rooms/{room}/members", s.handleRoomMembers).Methods("GET")
	api.HandleFunc("/rooms/{room}/broadcast", s.handleBroadcast).Methods("POST")
	api.HandleFunc("/users/{id}/notify", s.handleNotify).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}
	if s.opts.WebSocket != nil {
		s.router.Handle("/ws", s.opts.WebSocket)
	}
	if s.opts.MCP != nil {
		s.router.Handle("/mcp", s.requireAPIKey(s.opts.MCP)).Methods("POST")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// requireAPIKey rejects requests whose key header does not match. With no
// key configured every request passes.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(s.opts.APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps realtime errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realtime.ErrBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, realtime.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		respondError(w, http.StatusBadRequest, "request body is not valid JSON")
		return nil, false
	}
	return body, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rt.Stats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	room, err := realtime.ParseRoomTarget(mux.Vars(r)["room"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	members, err := s.rt.RoomMembers(r.Context(), room)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if members == nil {
		members = []realtime.MemberInfo{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"room":    room,
		"members": members,
		"count":   len(members),
	})
}

// handleBroadcast accepts {"event": "...", "payload": ..., "excludeUserId": "..."}.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	room, err := realtime.ParseRoomTarget(mux.Vars(r)["room"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	event := gjson.GetBytes(body, "event")
	if event.Type != gjson.String || event.Str == "" {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}
	var payload json.RawMessage
	if p := gjson.GetBytes(body, "payload"); p.Exists() {
		payload = json.RawMessage(p.Raw)
	}
	exclude := gjson.GetBytes(body, "excludeUserId").String()

	n, err := s.rt.BroadcastToRoom(r.Context(), room, event.Str, payload, exclude)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	s.logger.Info("admin broadcast", "room", room, "event", event.Str, "delivered", n)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"room":      room,
		"event":     event.Str,
		"delivered": n,
	})
}

// handleNotify sends the request body as the notification payload.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "notification payload is required")
		return
	}

	n, err := s.rt.NotifyUser(r.Context(), userID, json.RawMessage(body))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	s.logger.Info("admin notify", "user_id", userID, "type", gjson.GetBytes(body, "type").String(), "delivered", n)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":    userID,
		"delivered": n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
