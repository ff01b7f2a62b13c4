package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// maxFrameBytes bounds a single inbound websocket message.
	maxFrameBytes   = 1 << 20
	defaultMatches  = 20
	maxMatchesLimit = 100
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("GET /matches", s.matchesHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(rateLimitMiddleware(s.httpLimiter, mux))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startedAt).Seconds(),
		Rooms:       s.store.Len(),
		Connections: s.connections.Count(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{
		Connections: s.connections.Count(),
		Uptime:      time.Since(s.startedAt).Seconds(),
	}
	for _, room := range s.store.List() {
		room.mu.Lock()
		if !room.deleted {
			stats.TotalRooms++
			if room.GameState == StatePlaying {
				stats.ActiveGames++
			}
			stats.TotalPlayers += len(room.Players)
			stats.TotalSpectators += len(room.Spectators)
		}
		room.mu.Unlock()
	}

	if s.matches != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		n, err := s.matches.CountMatches(ctx)
		if err != nil {
			s.logger.Warn("failed to count archived matches", zap.Error(err))
		} else {
			stats.ArchivedMatches = &n
		}
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) matchesHandler(w http.ResponseWriter, r *http.Request) {
	if s.matches == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorMessage{Message: "Match archive is not enabled"})
		return
	}

	limit := defaultMatches
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSON(w, http.StatusBadRequest, ErrorMessage{Message: "limit must be a positive integer", Code: ErrValidation.Error()})
			return
		}
		limit = min(n, maxMatchesLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	matches, err := s.matches.RecentMatches(ctx, limit)
	if err != nil {
		s.logger.Error("failed to load matches", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, ErrorMessage{Message: "Internal server error", Code: codeInternal})
		return
	}
	s.writeJSON(w, http.StatusOK, matches)
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.logger.Debug("websocket upgrade rejected", zap.Error(err))
		return
	}
	socket.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connectionID := uuid.New().String()
	address := clientAddress(r)
	conn := NewConnection(connectionID, address, socket)

	s.connections.AddConnection(conn)
	s.sessions.Open(connectionID, address, time.Now())
	s.logger.Info("connection opened", zap.String("conn_id", connectionID), zap.String("address", address))

	go conn.writeLoop(ctx, s.logger)
	defer s.disconnect(connectionID)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.logger.Debug("connection read ended", zap.String("conn_id", connectionID), zap.Error(err))
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.handleFrame(ctx, conn, data)
	}
}

// disconnect turns a dropped connection into a leave of whatever room it was in.
func (s *Server) disconnect(connectionID string) {
	if info, ok := s.sessions.Close(connectionID); ok && info.RoomID != "" {
		s.gameManager.Leave(connectionID, info.RoomID)
	}
	s.connections.RemoveConnection(connectionID)
	s.logger.Info("connection closed", zap.String("conn_id", connectionID))
}

// handleFrame processes one inbound frame. A panic while handling it is reported
// to the sender and does not take the connection down.
func (s *Server) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic while handling event",
				zap.String("conn_id", conn.ID), zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			s.sendError(conn.ID, ErrorMessage{Message: "Internal server error", Code: codeInternal})
		}
	}()

	if !s.eventLimiter.Allow(ctx, conn.Address) {
		s.logger.Debug("event rate limited", zap.String("conn_id", conn.ID), zap.String("address", conn.Address))
		s.sendError(conn.ID, toErrorMessage(newError(ErrRateLimited, "Rate limit exceeded")))
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn.ID, ErrorMessage{Message: "Invalid JSON", Code: codeInvalidPayload})
		return
	}
	if err := ValidateMessageType(msg.Type); err != nil {
		s.sendError(conn.ID, ErrorMessage{Message: err.Error(), Code: codeInvalidMessageType})
		return
	}

	switch msg.Type {
	case EventPing:
		s.connections.Send(conn.ID, ServerMessage{Type: EventPong, Payload: map[string]int64{"timestamp": time.Now().UnixMilli()}})
	case EventCreateRoom:
		s.handleCreateRoom(conn.ID, msg.Payload)
	case EventJoinRoom:
		s.handleJoinRoom(conn.ID, msg.Payload)
	case EventLeaveRoom:
		s.handleLeaveRoom(conn.ID, msg.Payload)
	case EventToggleReady:
		s.handleToggleReady(conn.ID, msg.Payload)
	case EventStartGame:
		s.handleStartGame(conn.ID, msg.Payload)
	case EventGameMove:
		s.handleGameMove(conn.ID, msg.Payload)
	}
}

func (s *Server) sendError(connectionID string, em ErrorMessage) {
	s.connections.Send(connectionID, ServerMessage{Type: EventError, Payload: em})
}

// decodePayload unmarshals payload into v, reporting a bad payload to the sender.
func (s *Server) decodePayload(connectionID string, payload json.RawMessage, v any) bool {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.sendError(connectionID, ErrorMessage{Message: "Invalid payload", Code: codeInvalidPayload})
		return false
	}
	return true
}

// leaveCurrentRoom enforces one room per connection before a create.
func (s *Server) leaveCurrentRoom(connectionID string) {
	info, ok := s.sessions.Get(connectionID)
	if !ok || info.RoomID == "" {
		return
	}
	s.gameManager.Leave(connectionID, info.RoomID)
	s.sessions.ClearRoom(connectionID, info.RoomID)
}

func (s *Server) handleCreateRoom(connectionID string, payload json.RawMessage) {
	var req CreateRoomRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}

	s.leaveCurrentRoom(connectionID)
	room, err := s.gameManager.CreateAndJoin(connectionID, req.RoomName, req.PlayerName, req.IsPrivate)
	if err != nil {
		s.reportError(connectionID, err)
		return
	}
	s.sessions.SetRoom(connectionID, room.ID)
}

func (s *Server) handleJoinRoom(connectionID string, payload json.RawMessage) {
	var req JoinRoomRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}

	// Join before leaving, so a failed join keeps the current room. Joining the
	// room we are already in fails as a duplicate.
	prev, _ := s.sessions.Get(connectionID)
	room, err := s.gameManager.Join(connectionID, req.RoomCode, req.PlayerName, req.AsSpectator)
	if err != nil {
		s.reportError(connectionID, err)
		return
	}
	if prev.RoomID != "" && prev.RoomID != room.ID {
		s.gameManager.Leave(connectionID, prev.RoomID)
	}
	s.sessions.SetRoom(connectionID, room.ID)
}

func (s *Server) handleLeaveRoom(connectionID string, payload json.RawMessage) {
	var req RoomRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}
	s.gameManager.Leave(connectionID, req.RoomID)
	s.sessions.ClearRoom(connectionID, req.RoomID)
}

func (s *Server) handleToggleReady(connectionID string, payload json.RawMessage) {
	var req RoomRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}
	s.gameManager.ToggleReady(connectionID, req.RoomID)
}

func (s *Server) handleStartGame(connectionID string, payload json.RawMessage) {
	var req RoomRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}
	s.gameManager.StartGame(connectionID, req.RoomID)
}

func (s *Server) handleGameMove(connectionID string, payload json.RawMessage) {
	var req GameMoveRequest
	if !s.decodePayload(connectionID, payload, &req) {
		return
	}
	if req.Column == nil {
		s.sendError(connectionID, ErrorMessage{Message: "Missing column", Code: codeInvalidPayload})
		return
	}
	s.gameManager.ApplyMove(connectionID, req.RoomID, *req.Column)
}

func (s *Server) reportError(connectionID string, err error) {
	em := toErrorMessage(err)
	if em.Code == codeInternal {
		s.logger.Error("request failed", zap.String("conn_id", connectionID), zap.Error(err))
	}
	s.sendError(connectionID, em)
}
