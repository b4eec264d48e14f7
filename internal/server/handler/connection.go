package handler

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/types"
)

// handlePing 处理心跳消息
func (h *Handler) handlePing(client types.ClientInterface, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.PingPayload](msg)
	if err != nil {
		return
	}

	// 立即回复 pong
	client.SendMessage(codec.MustNewMessage(protocol.MsgPong, protocol.PongPayload{
		ClientTimestamp: payload.Timestamp,
		ServerTimestamp: time.Now().UnixMilli(),
	}))
}

// handleReconnect 处理断线重连：校验令牌后用当前连接恢复原玩家记录
func (h *Handler) handleReconnect(client types.ClientInterface, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.ReconnectPayload](msg)
	if err != nil || payload.Token == "" {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	if h.tokens == nil {
		sendError(client, apperrors.ErrInvalidToken)
		return
	}

	code, instance, playerID, err := h.tokens.Verify(payload.Token)
	if err != nil {
		sendError(client, err)
		return
	}

	// 已在其他房间时先离开
	if current := client.GetRoom(); current != "" && current != code {
		h.leaveCurrent(client)
	}

	// reconnected 和快照由房间发送
	if _, err := h.roomManager.Reconnect(code, instance, playerID, client); err != nil {
		// 宽限期已过，玩家或房间已经不存在
		if errors.Is(err, apperrors.ErrPlayerNotFound) || errors.Is(err, apperrors.ErrRoomNotFound) {
			err = apperrors.ErrReconnectExpired
		}
		sendError(client, err)
		return
	}

	log.Info().Str("room", code).Int("player", playerID).Str("client", client.GetID()).Msg("🔄 玩家重连成功")
}
