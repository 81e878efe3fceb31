package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dca_grid/internal/config"
	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
	"dca_grid/pkg/liveserver"
)

// Server is the admin HTTP server: the REST routes, the /ws live feed, and
// the /health and /metrics endpoints.
type Server struct {
	service *Service
	health  core.IHealthMonitor
	logger  core.ILogger
	srv     *http.Server
}

// NewServer wires the route table. The hub must be running for /ws clients
// to receive anything; health may be nil.
func NewServer(
	cfg *config.Config,
	service *Service,
	hub *liveserver.Hub,
	health core.IHealthMonitor,
	logger core.ILogger,
) *Server {
	s := &Server{
		service: service,
		health:  health,
		logger:  logger.WithField("component", "admin_server"),
	}

	ws := liveserver.NewHandler(hub, s.logger, liveserver.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConnections: cfg.Server.MaxConnections,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		Production:     !cfg.IsDevelopment(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /bots", s.handleListBots)
	mux.HandleFunc("POST /bots", s.handleCreateBot)
	mux.HandleFunc("GET /bots/{id}", s.handleGetBot)
	mux.HandleFunc("PUT /bots/{id}", s.handleUpdateBot)
	mux.HandleFunc("POST /bots/{id}/start", s.handleStartBot)
	mux.HandleFunc("POST /bots/{id}/stop", s.handleStopBot)
	mux.HandleFunc("POST /bots/{id}/finish", s.handleFinishBot)
	mux.HandleFunc("GET /bots/{id}/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /bots/{id}/cycles", s.handleListCycles)
	mux.HandleFunc("GET /cycles/{id}/orders", s.handleListOrders)
	mux.HandleFunc("GET /balance", s.handleBalances)
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: mux,
	}
	return s
}

// Start begins serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting admin server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", "error", err)
		}
	}()
}

// Stop drains in-flight requests and closes the listener
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req BotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	bot, err := s.service.CreateBot(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, botResponse(bot))
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.service.ListBots(r.Context(), queryInt(r, "skip", 0), queryInt(r, "limit", 0))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, botResponses(bots))
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	bot, err := s.service.GetBot(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, botResponse(bot))
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	var patch BotPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	bot, err := s.service.UpdateBot(r.Context(), id, patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, botResponse(bot))
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	if err := s.service.StartBot(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Bot started successfully"})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	if err := s.service.StopBot(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Bot stopped successfully"})
}

func (s *Server) handleFinishBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	if err := s.service.FinishBot(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Bot finishing after current cycle"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	dashboard, err := s.service.Dashboard(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "bot")
	if !ok {
		return
	}
	cycles, err := s.service.ListCycles(r.Context(), id, queryInt(r, "skip", 0), queryInt(r, "limit", 0))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cycleResponses(cycles))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "cycle")
	if !ok {
		return
	}
	orders, err := s.service.ListOrders(r.Context(), id, queryInt(r, "skip", 0), queryInt(r, "limit", 0))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderResponses(orders))
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	var assets []string
	if raw := r.URL.Query().Get("assets"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, strings.ToUpper(a))
			}
		}
	}
	balances, err := s.service.Balances(r.Context(), assets)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponses(balances))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	}
	code := http.StatusOK
	if s.health != nil {
		health["components"] = s.health.GetStatus()
		if !s.health.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, health)
}

// pathID parses the {id} segment; a malformed id answers 400 directly
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid "+label+" id")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service failures onto the API error contract
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrBotNotFound):
		s.writeError(w, http.StatusNotFound, "Bot not found")
	case errors.Is(err, apperrors.ErrCycleNotFound):
		s.writeError(w, http.StatusNotFound, "Cycle not found")
	case apperrors.IsValidation(err),
		errors.Is(err, apperrors.ErrCycleConflict),
		errors.Is(err, apperrors.ErrUpperPriceLimitActive):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Admin operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, ErrorResponse{Detail: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
