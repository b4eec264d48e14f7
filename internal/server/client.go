package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时（pong 等待时间）
	pongWait = 60 * time.Second

	// ping 发送间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 消息最大大小
	maxMessageSize = 4096

	// 发送缓冲区大小
	sendBufferSize = 256
)

// frame 待写出的一帧
type frame struct {
	kind int
	data []byte
}

// Client 代表一个连接的玩家
type Client struct {
	ID   string // 连接唯一 ID
	Name string // 默认昵称
	IP   string // 客户端 IP 地址

	server  *Server
	conn    *websocket.Conn
	send    chan frame
	limiter *MessageLimiter
	format  atomic.Int32 // 最近一次收到的帧格式，回复使用相同格式

	mu       sync.RWMutex
	roomCode string
	playerID int
	closed   bool
}

// NewClient 创建新客户端
func NewClient(s *Server, conn *websocket.Conn) *Client {
	limit := s.config.Security.MessageLimit
	return &Client{
		ID:      uuid.New().String(),
		Name:    GenerateNickname(),
		server:  s,
		conn:    conn,
		send:    make(chan frame, sendBufferSize),
		limiter: NewMessageLimiter(limit.MaxPerSecond, limit.Burst),
	}
}

// ReadPump 从 WebSocket 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.handleDisconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client", c.ID).Msg("读取错误")
			}
			break
		}

		format := codec.FormatJSON
		if kind == websocket.BinaryMessage {
			format = codec.FormatBinary
		}
		c.format.Store(int32(format))

		// 消息速率限制检查
		if !c.limiter.Allow() {
			log.Warn().Str("client", c.ID).Str("ip", c.IP).Msg("⚠️ 消息过于频繁")
			c.SendMessage(codec.NewErrorMessage(protocol.ErrCodeRateLimit))
			// 如果警告次数过多，断开连接
			if c.limiter.Exceeded() {
				log.Warn().Str("client", c.ID).Msg("🚫 多次超速，断开连接")
				break
			}
			continue
		}

		// 解析消息
		msg, err := codec.Decode(message, format)
		if err != nil {
			log.Debug().Err(err).Str("client", c.ID).Msg("消息解析错误")
			c.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
			continue
		}

		// 交给处理器处理
		c.server.handler.Handle(c, msg)
		codec.PutMessage(msg)
	}
}

// WritePump 向 WebSocket 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 通道已关闭
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，不阻塞调用方
func (c *Client) SendMessage(msg *protocol.Message) {
	format := codec.Format(c.format.Load())
	data, err := codec.Encode(msg, format)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("消息编码错误")
		return
	}
	kind := websocket.TextMessage
	if format == codec.FormatBinary {
		kind = websocket.BinaryMessage
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- frame{kind: kind, data: data}:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		// 发送缓冲区已满，关闭连接，读协程退出时按掉线处理
		log.Warn().Str("client", c.ID).Msg("发送缓冲区已满，关闭连接")
		c.Close()
	}
}

// handleDisconnect 处理断开连接
func (c *Client) handleDisconnect() {
	// 如果在房间中，通知房间玩家掉线（保留记录等待重连）
	c.server.handler.OnDisconnect(c)

	// 从服务器注销连接
	c.server.unregisterClient(c)
	c.Close()
}

// Close 关闭客户端连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) GetID() string   { return c.ID }
func (c *Client) GetName() string { return c.Name }

// SetRoom 设置客户端所在房间
func (c *Client) SetRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode = code
}

// GetRoom 获取客户端所在房间
func (c *Client) GetRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode
}

// SetPlayerID 设置房间内的玩家编号
func (c *Client) SetPlayerID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = id
}

// GetPlayerID 获取房间内的玩家编号
func (c *Client) GetPlayerID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}
