// Package transport 提供带自动重连的 WebSocket 客户端，供命令行客户端和集成测试使用。
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// 心跳检测间隔
	heartbeatInterval = 5 * time.Second
	// 最大重连次数
	maxReconnectAttempts = 5
	// 首次重连间隔，之后指数退避
	reconnectInterval = 2 * time.Second
	maxReconnectDelay = 30 * time.Second

	sendBufferSize = 256
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
	ErrNoToken        = errors.New("transport: no reconnect token")
)

// session 一条底层连接及其读写协程共享的状态
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Option 客户端选项
type Option func(*Client)

// WithFormat 设置发送帧格式
func WithFormat(f codec.Format) Option {
	return func(c *Client) { c.format = f }
}

// WithReconnect 设置重连次数和首次重连间隔
func WithReconnect(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		c.interval = interval
	}
}

// Client WebSocket 客户端
type Client struct {
	ServerURL string

	format      codec.Format
	maxAttempts int
	interval    time.Duration
	dialer      websocket.Dialer

	sess    *session
	receive chan *protocol.Message

	// 房间会话信息，由 room_joined 填充
	roomCode string
	playerID int
	token    string

	// 网络延迟（毫秒）
	latency atomic.Int64

	// 回调
	OnMessage      func(*protocol.Message) // 消息回调
	OnError        func(error)             // 错误回调
	OnClose        func()                  // 关闭回调
	OnReconnecting func(attempt, max int)  // 开始第 attempt 次重连
	OnReconnect    func()                  // 重连成功回调

	mu             sync.RWMutex
	closed         bool
	reconnecting   atomic.Bool
	reconnectCount int
	stop           chan struct{}
}

// NewClient 创建客户端
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		ServerURL:   serverURL,
		format:      codec.FormatJSON,
		maxAttempts: maxReconnectAttempts,
		interval:    reconnectInterval,
		dialer:      websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		receive:     make(chan *protocol.Message, sendBufferSize),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect 连接服务器
func (c *Client) Connect() error {
	conn, _, err := c.dialer.Dial(c.ServerURL, nil)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// attach 绑定新连接并启动读写协程
func (c *Client) attach(conn *websocket.Conn) {
	s := newSession(conn)
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go c.readPump(s)
	go c.writePump(s)
}

// SendMessage 编码并异步发送消息
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.RLock()
	s, closed := c.sess, c.closed
	c.mu.RUnlock()
	if closed || s == nil {
		return ErrNotConnected
	}

	data, err := codec.Encode(msg, c.format)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Receive 返回接收消息的 channel
func (c *Client) Receive() <-chan *protocol.Message {
	return c.receive
}

// ReceiveWithTimeout 带超时的接收
func (c *Client) ReceiveWithTimeout(timeout time.Duration) (*protocol.Message, error) {
	select {
	case msg := <-c.receive:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.New("receive timeout")
	case <-c.stop:
		return nil, ErrNotConnected
	}
}

// Close 关闭连接，之后不再重连
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	s := c.sess
	close(c.stop)
	c.mu.Unlock()

	if s != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.close()
	}
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.sess == nil {
		return false
	}
	select {
	case <-c.sess.done:
		return false
	default:
		return true
	}
}

// IsReconnecting 是否正在重连
func (c *Client) IsReconnecting() bool {
	return c.reconnecting.Load()
}

// GetLatency 获取当前延迟（毫秒）
func (c *Client) GetLatency() int64 {
	return c.latency.Load()
}

// RoomCode 当前所在房间号
func (c *Client) RoomCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode
}

// PlayerID 当前房间内的玩家 ID
func (c *Client) PlayerID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// Token 当前持有的重连令牌
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setSession(code string, playerID int, token string) {
	c.mu.Lock()
	c.roomCode, c.playerID = code, playerID
	if token != "" {
		c.token = token
	}
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.roomCode, c.playerID, c.token = "", 0, ""
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
