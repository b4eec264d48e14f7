package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/events"
)

const internalTokenHeader = "X-Internal-Token"

// routes 组装 HTTP 路由
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)

	r.Route("/rooms/{code}", func(r chi.Router) {
		r.Get("/", s.handleGetRoom)
		r.Get("/matches", s.handleListMatches)
	})

	// 规则服务回调，未配置令牌时不开放
	if s.config.Server.InternalToken != "" {
		r.Route("/internal/rooms/{code}", func(r chi.Router) {
			r.Use(s.requireInternalToken)
			r.Post("/round-complete", s.handleRoundComplete)
			r.Post("/turn-advance", s.handleTurnAdvance)
		})
	}
	return r
}

// handleHealth 健康检查接口
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.IsMaintenanceMode() {
		status = "maintenance"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"rooms":       s.roomManager.RoomCount(),
		"connections": s.GetOnlineCount(),
	})
}

// handleGetRoom 返回房间当前快照
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	snap, err := s.roomManager.Snapshot(code)
	if errors.Is(err, apperrors.ErrRoomNotFound) && s.snapshots != nil {
		// 本实例没有该房间时查共享存储
		data, loadErr := s.snapshots.LoadRoom(r.Context(), code)
		if loadErr != nil {
			log.Warn().Err(loadErr).Str("room", code).Msg("load room snapshot")
		} else if data != nil {
			writeJSON(w, http.StatusOK, data.Snapshot)
			return
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.DTO())
}

// handleListMatches 返回房间最近的对局归档
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	if s.matches == nil {
		http.Error(w, "match archive disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.matches.RecentMatches(r.Context(), chi.URLParam(r, "code"), limit)
	if err != nil {
		log.Error().Err(err).Msg("查询对局归档失败")
		http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// requireInternalToken 校验规则服务的共享令牌
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	expected := []byte(s.config.Server.InternalToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(internalTokenHeader))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoundComplete(w http.ResponseWriter, r *http.Request) {
	var payload events.RoundCompletePayload
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}
	snap, err := s.roomManager.CompleteRound(chi.URLParam(r, "code"), payload.Terminal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.DTO())
}

func (s *Server) handleTurnAdvance(w http.ResponseWriter, r *http.Request) {
	snap, err := s.roomManager.AdvanceTurn(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.DTO())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 把会话错误映射为 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrInvalidRoomCode):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidPhase):
		status = http.StatusConflict
	}
	var gameErr *apperrors.GameError
	if errors.As(err, &gameErr) {
		writeJSON(w, status, map[string]any{"code": gameErr.Code, "message": gameErr.Message})
		return
	}
	writeJSON(w, status, map[string]any{"code": apperrors.Code(err), "message": err.Error()})
}

