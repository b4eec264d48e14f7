package transport

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/logger"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

// readPump 从服务器读取消息
func (c *Client) readPump(s *session) {
	defer c.handleReadExit(s)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.OnError != nil {
				c.OnError(err)
			}
			return
		}

		format := codec.FormatJSON
		if kind == websocket.BinaryMessage {
			format = codec.FormatBinary
		}
		msg, err := codec.Decode(data, format)
		if err != nil {
			log.Warn().Err(err).Msg("消息解析错误")
			continue
		}
		c.processMessage(msg)
	}
}

func (c *Client) handleReadExit(s *session) {
	if r := recover(); r != nil {
		logger.LogPanic(r)
	}
	s.close()

	if c.isClosed() {
		return
	}
	if c.Token() != "" {
		go c.tryReconnect()
		return
	}
	c.Close()
	if c.OnClose != nil {
		c.OnClose()
	}
}

func (c *Client) processMessage(msg *protocol.Message) {
	reconnected := c.handleInternalMessage(msg)

	if c.OnMessage != nil {
		c.OnMessage(msg)
	}

	select {
	case c.receive <- msg:
	default:
		log.Debug().Str("type", string(msg.Type)).Msg("receive buffer full, message dropped")
	}

	// 重连成功回调放在最后，确保消息已经发送到 channel
	if reconnected && c.OnReconnect != nil {
		c.OnReconnect()
	}
}

// handleInternalMessage 维护重连令牌和延迟；返回是否刚完成重连
func (c *Client) handleInternalMessage(msg *protocol.Message) bool {
	switch msg.Type {
	case protocol.MsgRoomJoined:
		if p, err := codec.ParsePayload[protocol.RoomJoinedPayload](msg); err == nil {
			c.setSession(p.Snapshot.RoomCode, p.PlayerID, p.ReconnectToken)
		}
	case protocol.MsgReconnected:
		if p, err := codec.ParsePayload[protocol.ReconnectedPayload](msg); err == nil {
			c.setSession(p.Snapshot.RoomCode, p.PlayerID, "")
		}
		c.reconnecting.Store(false)
		c.mu.Lock()
		c.reconnectCount = 0
		c.mu.Unlock()
		return true
	case protocol.MsgRoomLeft, protocol.MsgRoomClosed:
		c.clearSession()
	case protocol.MsgError:
		p, err := codec.ParsePayload[protocol.ErrorPayload](msg)
		if err != nil {
			break
		}
		// 令牌失效后不再尝试重连
		if p.Code == protocol.ErrCodeReconnectExpired || p.Code == protocol.ErrCodeInvalidToken {
			c.clearSession()
			c.reconnecting.Store(false)
		}
	case protocol.MsgPong:
		if p, err := codec.ParsePayload[protocol.PongPayload](msg); err == nil && p.ClientTimestamp > 0 {
			c.latency.Store(time.Now().UnixMilli() - p.ClientTimestamp)
		}
	}
	return false
}

// writePump 向服务器写入消息
func (c *Client) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
		}
		ticker.Stop()
		s.close()
	}()

	kind := websocket.TextMessage
	if c.format == codec.FormatBinary {
		kind = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(kind, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
