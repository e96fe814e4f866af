package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/pipeline"
	"fabula/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The daemon binds to loopback by default; cross-origin browser
			// clients are expected during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/sessions", srv.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", srv.handleSession)
	mux.HandleFunc("POST /api/sessions/{id}/generate", srv.handleGenerate)
	mux.HandleFunc("POST /api/sessions/{id}/retry", srv.handleRetry)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/sessions/{id}/ready-ack", srv.handleReadyAck)
	mux.HandleFunc("GET /api/sessions/{id}/events", srv.handleEvents)

	srv.server = &http.Server{
		Handler:           authMiddleware(cfg.API.Token, mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound address once the server is listening.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.daemon.SessionReports(),
	})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	rep, err := s.daemon.SessionReport(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

type generateRequest struct {
	Content pipeline.Content `json:"content"`
}

func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.daemon.StartGeneration(sessionID, req.Content); err != nil {
		if errors.Is(err, ErrSessionBusy) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": sessionID,
		"sceneId":   req.Content.SceneID,
		"started":   true,
	})
}

type retryRequest struct {
	Stage string `json:"stage"`
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	status, err := s.daemon.RetryStage(r.Context(), sessionID, pipeline.StageID(req.Stage))
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionUnknown):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrSessionBusy):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, pipeline.ErrRetryBudgetExhausted), errors.Is(err, pipeline.ErrStageNotRetryable):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.writeJSON(w, http.StatusOK, map[string]any{
				"stage":  req.Stage,
				"status": string(pipeline.StatusError),
				"error":  services.Details(err),
			})
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stage":  req.Stage,
		"status": string(status),
	})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.CancelSession(r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *apiServer) handleReadyAck(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ConfirmReady(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrSessionUnknown) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// handleEvents upgrades to a websocket and streams the session's pipeline
// events until the client disconnects.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := s.daemon.bus.Subscribe(sessionID)
	defer cancel()

	// Read pump: notice client-side close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode api response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
