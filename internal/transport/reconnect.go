package transport

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/logger"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

// Reconnect 用保存的令牌请求恢复房间席位
func (c *Client) Reconnect() error {
	token := c.Token()
	if token == "" {
		return ErrNoToken
	}
	return c.SendMessage(codec.MustNewMessage(protocol.MsgReconnect, protocol.ReconnectPayload{
		Token: token,
	}))
}

// StartHeartbeat 启动应用层心跳，用于测量延迟
func (c *Client) StartHeartbeat() {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if c.IsConnected() {
					_ = c.Ping()
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// tryReconnect 指数退避重连，连上后立即发送重连请求
func (c *Client) tryReconnect() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			c.reconnecting.Store(false)
		}
	}()

	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	backoff := c.interval
	for {
		c.mu.Lock()
		if c.reconnectCount >= c.maxAttempts {
			c.mu.Unlock()
			break
		}
		c.reconnectCount++
		attempt := c.reconnectCount
		c.mu.Unlock()

		if c.OnReconnecting != nil {
			c.OnReconnecting(attempt, c.maxAttempts)
		}

		select {
		case <-time.After(backoff):
		case <-c.stop:
			c.reconnecting.Store(false)
			return
		}

		backoff *= 2
		if backoff > maxReconnectDelay {
			backoff = maxReconnectDelay
		}

		conn, _, err := c.dialer.Dial(c.ServerURL, nil)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect dial failed")
			continue
		}
		// 先清除标记，新连接若立即断开可以再次触发重连
		c.reconnecting.Store(false)
		c.attach(conn)
		if err := c.Reconnect(); err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("send reconnect request")
		}
		// 结果由 reconnected 或 error 消息决定
		return
	}

	log.Warn().Int("attempts", c.maxAttempts).Msg("🔌 重连失败")
	c.reconnecting.Store(false)
	c.Close()
	if c.OnClose != nil {
		c.OnClose()
	}
}
