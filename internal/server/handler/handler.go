package handler

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/game/room"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/types"
)

// Rooms 处理器使用的房间管理器操作
type Rooms interface {
	CreateRoom(client types.ClientInterface, name string) (room.JoinResult, error)
	JoinRoom(code string, client types.ClientInterface, name string) (room.JoinResult, error)
	LeaveRoom(code string, playerID int) error
	SetReady(code string, playerID int, ready bool) (room.Snapshot, error)
	AdvancePhase(code string, playerID int, target phase.GamePhase) (room.Snapshot, error)
	Reconnect(code, instance string, playerID int, client types.ClientInterface) (room.Snapshot, error)
	Disconnect(code string, playerID int, connID string)
}

// TokenVerifier 校验重连令牌
type TokenVerifier interface {
	Verify(token string) (code, instance string, playerID int, err error)
}

// HandlerDeps 处理器依赖
type HandlerDeps struct {
	Server      types.ServerInterface
	RoomManager Rooms
	Tokens      TokenVerifier
}

// Handler 消息处理器
type Handler struct {
	server      types.ServerInterface
	roomManager Rooms
	tokens      TokenVerifier
	handlers    map[protocol.MessageType]handlerFunc
}

// handlerFunc 统一的处理器函数签名
type handlerFunc func(client types.ClientInterface, msg *protocol.Message)

// NewHandler 创建处理器
func NewHandler(deps HandlerDeps) *Handler {
	h := &Handler{
		server:      deps.Server,
		roomManager: deps.RoomManager,
		tokens:      deps.Tokens,
	}
	h.initHandlers()
	return h
}

// initHandlers 初始化消息处理器映射
func (h *Handler) initHandlers() {
	h.handlers = map[protocol.MessageType]handlerFunc{
		// 连接操作
		protocol.MsgPing:      h.handlePing,
		protocol.MsgReconnect: h.handleReconnect,

		// 房间操作
		protocol.MsgCreateRoom:          h.handleCreateRoom,
		protocol.MsgJoinRoom:            h.handleJoinRoom,
		protocol.MsgLeaveRoom:           func(c types.ClientInterface, _ *protocol.Message) { h.handleLeaveRoom(c) },
		protocol.MsgSetReady:            h.handleSetReady,
		protocol.MsgRequestPhaseAdvance: h.handlePhaseAdvance,
	}
}

// Handle 处理消息
func (h *Handler) Handle(client types.ClientInterface, msg *protocol.Message) {
	if handler, ok := h.handlers[msg.Type]; ok {
		handler(client, msg)
		return
	}

	log.Warn().
		Str("type", string(msg.Type)).
		Str("client", client.GetID()).
		Int("payload_bytes", len(msg.Payload)).
		Msg("⚠️ 未知消息类型")
	client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
}

// OnDisconnect 连接断开时通知所在房间
func (h *Handler) OnDisconnect(client types.ClientInterface) {
	code := client.GetRoom()
	if code == "" {
		return
	}
	h.roomManager.Disconnect(code, client.GetPlayerID(), client.GetID())
}

// sendError 把错误转换为错误码回复给请求方
func sendError(client types.ClientInterface, err error) {
	var gameErr *apperrors.GameError
	if errors.As(err, &gameErr) {
		client.SendMessage(codec.NewErrorMessage(gameErr.Code))
		return
	}
	log.Error().Err(err).Str("client", client.GetID()).Msg("未预期的处理错误")
	client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeUnknown))
}
