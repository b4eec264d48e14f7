package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/config"
	"github.com/palemoky/party-session/internal/game/room"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/server/handler"
	"github.com/palemoky/party-session/internal/server/storage"
)

// MatchLister 查询房间历史对局
type MatchLister interface {
	RecentMatches(ctx context.Context, code string, limit int) ([]storage.MatchRecord, error)
}

// SnapshotLoader 读取共享存储中的房间快照，用于查询其他实例上的房间
type SnapshotLoader interface {
	LoadRoom(ctx context.Context, code string) (*storage.RoomData, error)
}

// Deps 服务器依赖，RoomManager 必填
type Deps struct {
	RoomManager *room.RoomManager
	Tokens      handler.TokenVerifier
	Matches     MatchLister
	Snapshots   SnapshotLoader
}

// Server WebSocket 服务器
type Server struct {
	config      *config.Config
	roomManager *room.RoomManager
	matches     MatchLister
	snapshots   SnapshotLoader
	handler     *handler.Handler
	upgrader    websocket.Upgrader
	clients     map[string]*Client
	clientsMu   sync.RWMutex

	// 安全组件
	rateLimiter   *RateLimiter
	originChecker *OriginChecker

	// 连接控制
	maxConnections int
	semaphore      chan struct{} // 信号量控制并发连接数

	// 维护模式
	maintenanceMode atomic.Bool

	httpServer *http.Server
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:      cfg,
		roomManager: deps.RoomManager,
		matches:     deps.Matches,
		snapshots:   deps.Snapshots,
		clients:     make(map[string]*Client),
		// 初始化安全组件
		rateLimiter: NewRateLimiter(
			cfg.Security.RateLimit.MaxPerSecond,
			cfg.Security.RateLimit.Burst,
			time.Minute,
		),
		originChecker: NewOriginChecker(cfg.Security.AllowedOrigins),
		// 初始化连接控制
		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
		stop:           make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 来源已在升级前校验
		CheckOrigin: func(*http.Request) bool { return true },
		// 压缩会对CPU和内存造成压力，小消息反而是负优化
		EnableCompression: false,
	}

	// 初始化消息处理器
	s.handler = handler.NewHandler(handler.HandlerDeps{
		Server:      s,
		RoomManager: deps.RoomManager,
		Tokens:      deps.Tokens,
	})

	log.Info().
		Float64("conn_rate", cfg.Security.RateLimit.MaxPerSecond).
		Float64("msg_rate", cfg.Security.MessageLimit.MaxPerSecond).
		Int("max_conns", cfg.Server.MaxConnections).
		Msg("🔒 安全配置")

	return s
}

// Handler 返回 HTTP 路由
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start 启动服务器，阻塞直到 Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve 在指定监听器上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second, // 防止 Slowloris 攻击
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 启动监控 goroutine
	go s.monitorStats()

	log.Info().Str("addr", ln.Addr().String()).Int("cpus", runtime.NumCPU()).Msg("🚀 服务器启动")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWebSocket 处理 WebSocket 连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 获取真实客户端IP
	clientIP := GetClientIP(r)

	// 维护模式检查（最优先）
	if s.IsMaintenanceMode() {
		log.Info().Str("ip", clientIP).Msg("🔧 维护模式，拒绝新连接")
		http.Error(w, protocol.ErrorMessages[protocol.ErrCodeServerMaintenance], http.StatusServiceUnavailable)
		return
	}

	// 来源验证
	if !s.originChecker.Check(r) {
		log.Warn().Str("origin", r.Header.Get("Origin")).Str("ip", clientIP).Msg("🚫 来源验证失败")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// 速率限制检查
	if !s.rateLimiter.Allow(clientIP) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 连接数限制检查，连接关闭后释放
	select {
	case s.semaphore <- struct{}{}:
	default:
		log.Warn().Int("max", s.maxConnections).Str("ip", clientIP).Msg("🚫 达到最大连接数限制")
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		<-s.semaphore
		log.Debug().Err(err).Msg("WebSocket 升级失败")
		return
	}

	// 创建客户端
	client := NewClient(s, conn)
	client.IP = clientIP
	s.registerClient(client)

	client.SendMessage(codec.MustNewMessage(protocol.MsgConnected, protocol.ConnectedPayload{
		ClientID:   client.ID,
		ClientName: client.Name,
	}))

	log.Info().Str("client", client.ID).Str("name", client.Name).Str("ip", clientIP).Msg("✅ 客户端已连接")

	// 启动客户端读写协程
	go func() {
		defer func() { <-s.semaphore }()
		client.ReadPump()
	}()
	go client.WritePump()
}

// registerClient 注册客户端
func (s *Server) registerClient(client *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client.ID] = client
}

// unregisterClient 注销客户端
func (s *Server) unregisterClient(client *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		delete(s.clients, client.ID)
		log.Info().Str("client", client.ID).Msg("❌ 客户端已断开")
	}
}

// GetOnlineCount 获取在线连接数
func (s *Server) GetOnlineCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast 广播消息给所有客户端
func (s *Server) Broadcast(msg *protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		client.SendMessage(msg)
	}
}
