package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"pong-server/internal/match"
	"pong-server/internal/physics"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/", s.IndexHandler)

	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("GET /players/{id}/stats", s.playerStatsHandler)

	mux.HandleFunc("/matchmaking", s.matchmakingHandler)
	mux.HandleFunc("/game", s.gameHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "pong-server"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "ok",
		Store:       "ok",
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Connections: s.connectionManager.Count(),
		Inactive:    len(s.health.GetInactiveConnections(inactiveAfter)),
		Simulations: s.engine.Running(),
		Matchmaking: s.manager.Stats(),
	}
	status := http.StatusOK
	if err := s.store.Health(ctx); err != nil {
		s.logger.Warn("store health check failed", "err", err)
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) playerStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || userID <= 0 {
		s.writeJSON(w, http.StatusBadRequest, ErrorMessage{Message: "invalid player id", Code: match.ErrInvalidValue.Code})
		return
	}

	stats, err := s.store.PlayerStats(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to load player stats", "user_id", userID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorMessage{Message: "failed to load stats", Code: CodeInternal})
		return
	}
	presence, err := s.store.PresenceOf(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to load presence", "user_id", userID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorMessage{Message: "failed to load presence", Code: CodeInternal})
		return
	}
	s.writeJSON(w, http.StatusOK, PlayerStatsResponse{Stats: stats, Presence: presence})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	jsonResp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResp); err != nil {
		s.logger.Debug("failed to write response", "err", err)
	}
}

func (s *Server) matchmakingHandler(w http.ResponseWriter, r *http.Request) {
	s.websocketHandler(w, r, match.PhaseMatchmaking)
}

func (s *Server) gameHandler(w http.ResponseWriter, r *http.Request) {
	s.websocketHandler(w, r, match.PhaseGame)
}

// tokenFromRequest looks for the session token in the query string, then
// the Authorization header, then the session cookie.
func (s *Server) tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(s.cfg.SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request, phase match.Phase) {
	token := s.tokenFromRequest(r)

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("failed to accept websocket", "err", err)
		return
	}
	defer socket.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(uuid.New().String(), socket, s.logger)
	go c.writePump(ctx)
	s.connectionManager.AddConnection(c)
	defer func() {
		s.manager.Unregister(c.id)
		s.connectionManager.RemoveConnection(c.id)
		s.rateLimiter.RemoveConnection(c.id)
		s.health.RemoveConnection(c.id)
	}()

	identity, err := s.manager.Register(ctx, c, token, phase)
	if err != nil {
		c.logger.Info("registration refused", "phase", phase.String(), "err", err)
		s.sendError(c, err)
		c.Close(match.CodeOf(err))
		<-c.Done()
		return
	}
	logger := c.logger.With("user_id", identity.ID)
	c.Send(EventConnected, ConnectedPayload{
		ConnectionID: c.id,
		UserID:       identity.ID,
		DisplayName:  identity.DisplayName,
		Phase:        phase.String(),
	})
	s.health.UpdateActivity(c.id)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Debug("websocket closed", "phase", phase.String())
			} else {
				logger.Debug("websocket read ended", "phase", phase.String(), "err", err)
			}
			return
		}
		s.health.UpdateActivity(c.id)

		if !s.rateLimiter.Allow(c.id) {
			s.sendError(c, &match.Error{Code: CodeRateLimited, Message: "too many messages"})
			continue
		}
		if msgType != websocket.MessageText {
			s.sendError(c, &match.Error{Code: match.ErrInvalidValue.Code, Message: "expected a text message"})
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(c, &match.Error{Code: match.ErrInvalidValue.Code, Message: "invalid JSON"})
			continue
		}
		if err := ValidateMessageType(phase, msg.Type); err != nil {
			s.sendError(c, err)
			continue
		}

		if err := s.dispatch(c, phase, msg); err != nil {
			logger.Debug("event rejected", "event", msg.Type, "code", match.CodeOf(err), "err", err)
			s.sendError(c, err)
			if errors.Is(err, match.ErrSessionNotFound) {
				c.Close("session no longer exists")
			}
		}
	}
}

func (s *Server) dispatch(c *conn, phase match.Phase, msg ClientMessage) error {
	if msg.Type == "ping" {
		c.Send(EventPong, nil)
		return nil
	}
	if phase == match.PhaseGame {
		return s.handleGame(c, msg)
	}
	return s.handleMatchmaking(c, msg)
}

func (s *Server) handleMatchmaking(c *conn, msg ClientMessage) error {
	switch msg.Type {
	case "search":
		var req SearchRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return err
		}
		prefs, err := preferences(req.Map, req.Difficulty)
		if err != nil {
			return err
		}
		return s.manager.Search(c.id, prefs)

	case "cancel":
		return s.manager.CancelSearch(c.id)

	case "invite":
		var req InviteRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return err
		}
		prefs, err := preferences(req.Map, req.Difficulty)
		if err != nil {
			return err
		}
		return s.manager.Invite(c.id, req.TargetID, prefs)

	case "accept":
		return s.manager.Accept(c.id)

	case "refuse":
		return s.manager.Decline(c.id)

	case "spectate":
		var req SpectateRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return err
		}
		return s.manager.AddSpectator(c.id, req.TargetID)

	case "leave":
		return s.manager.RemoveSpectator(c.id)
	}
	return &match.Error{Code: CodeInvalidMessageType, Message: fmt.Sprintf("unhandled message type %q", msg.Type)}
}

func (s *Server) handleGame(c *conn, msg ClientMessage) error {
	switch msg.Type {
	case "ready":
		return s.manager.MarkReady(c.id)

	case "throwBall":
		return s.manager.ThrowBall(c.id)

	case "playerPosition":
		var offset float64
		if err := decodePayload(msg.Payload, &offset); err != nil {
			return err
		}
		return s.manager.ReportPlayerPosition(c.id, offset)

	case "ballClientPosition":
		var pos physics.Vec2
		if err := decodePayload(msg.Payload, &pos); err != nil {
			return err
		}
		return s.manager.ReportBallPosition(c.id, pos)

	case "scored":
		var req ScoredRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return err
		}
		return s.manager.ReportScore(c.id, req.Side)

	case "leave":
		return s.manager.RemoveSpectator(c.id)
	}
	return &match.Error{Code: CodeInvalidMessageType, Message: fmt.Sprintf("unhandled message type %q", msg.Type)}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return &match.Error{Code: match.ErrInvalidValue.Code, Message: "payload is required"}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &match.Error{Code: match.ErrInvalidValue.Code, Message: "invalid payload: " + err.Error()}
	}
	return nil
}

func preferences(mapID, difficulty *int) (match.Preferences, error) {
	if mapID == nil || difficulty == nil {
		return match.Preferences{}, &match.Error{Code: match.ErrInvalidValue.Code, Message: "map and difficulty are required"}
	}
	return match.Preferences{Map: *mapID, Difficulty: *difficulty}, nil
}

func (s *Server) sendError(c *conn, err error) {
	var me *match.Error
	if !errors.As(err, &me) {
		s.logger.Error("unexpected error", "connection_id", c.id, "err", err)
		c.Send(EventError, ErrorMessage{Message: "internal error", Code: CodeInternal})
		return
	}
	c.Send(EventError, ErrorMessage{Message: me.Message, Code: me.Code})
}
