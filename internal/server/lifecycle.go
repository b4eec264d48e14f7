package server

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

const monitorInterval = 30 * time.Second

// monitorStats 定期输出服务器状态并清理限流记录
func (s *Server) monitorStats() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.rateLimiter.Cleanup(now)

			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			log.Info().
				Int("online", s.GetOnlineCount()).
				Int("rooms", s.roomManager.RoomCount()).
				Int("goroutines", runtime.NumGoroutine()).
				Int("active_conns", len(s.semaphore)).
				Int("max_conns", s.maxConnections).
				Float64("mem_mb", float64(m.Alloc)/1024/1024).
				Msg("📊 [监控]")
		case <-s.stop:
			return
		}
	}
}

// EnterMaintenanceMode 进入维护模式：拒绝新连接和新房间
func (s *Server) EnterMaintenanceMode() {
	if s.maintenanceMode.Swap(true) {
		return
	}

	s.Broadcast(codec.NewErrorMessageWithText(
		protocol.ErrCodeServerMaintenance, "👷🏻‍♂️ 维护模式：停止新的房间创建"))

	log.Info().Msg("🔧 进入维护模式：停止新连接和房间创建")
}

// IsMaintenanceMode 检查是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	return s.maintenanceMode.Load()
}

// Shutdown 优雅关闭：进入维护模式，停止接受连接，通知并关闭所有房间，最后断开客户端
func (s *Server) Shutdown(ctx context.Context) error {
	s.EnterMaintenanceMode()
	s.stopOnce.Do(func() { close(s.stop) })

	var firstErr error
	if s.httpServer != nil {
		// 已升级的 WebSocket 连接不受 http.Server.Shutdown 管理
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	if err := s.roomManager.Shutdown(ctx, "server shutdown"); err != nil && firstErr == nil {
		firstErr = err
	}

	// 关闭所有客户端连接
	s.clientsMu.RLock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.RUnlock()

	log.Info().Msg("服务器已关闭")
	return firstErr
}
