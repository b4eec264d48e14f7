package handler

import (
	"strings"
	"unicode/utf8"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/types"
)

const maxNameLength = 20

// displayName 取请求中的名字，为空时回退到连接的昵称
func displayName(requested string, client types.ClientInterface) (string, bool) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = client.GetName()
	}
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", false
	}
	return name, true
}

// handleCreateRoom 处理创建房间
func (h *Handler) handleCreateRoom(client types.ClientInterface, msg *protocol.Message) {
	// 维护模式检查
	if h.server.IsMaintenanceMode() {
		client.SendMessage(codec.NewErrorMessageWithText(
			protocol.ErrCodeServerMaintenance, "服务器维护中，暂停创建房间"))
		return
	}

	payload, err := codec.ParsePayload[protocol.CreateRoomPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	name, ok := displayName(payload.PlayerName, client)
	if !ok {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}

	// 如果已在房间中，先离开
	h.leaveCurrent(client)

	// room_joined 和首个快照由房间发送
	if _, err := h.roomManager.CreateRoom(client, name); err != nil {
		sendError(client, err)
	}
}

// handleJoinRoom 处理加入房间
func (h *Handler) handleJoinRoom(client types.ClientInterface, msg *protocol.Message) {
	// 维护模式检查
	if h.server.IsMaintenanceMode() {
		client.SendMessage(codec.NewErrorMessageWithText(
			protocol.ErrCodeServerMaintenance, "服务器维护中，暂停加入房间"))
		return
	}

	payload, err := codec.ParsePayload[protocol.JoinRoomPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	name, ok := displayName(payload.PlayerName, client)
	if !ok {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}

	// 重复加入当前房间交给房间判定
	if current := client.GetRoom(); current != payload.RoomCode {
		h.leaveCurrent(client)
	}

	if _, err := h.roomManager.JoinRoom(payload.RoomCode, client, name); err != nil {
		sendError(client, err)
	}
}

// handleLeaveRoom 处理离开房间
func (h *Handler) handleLeaveRoom(client types.ClientInterface) {
	code := client.GetRoom()
	if code == "" {
		sendError(client, apperrors.ErrNotInRoom)
		return
	}
	if err := h.roomManager.LeaveRoom(code, client.GetPlayerID()); err != nil {
		sendError(client, err)
		return
	}
	client.SendMessage(codec.MustNewMessage(protocol.MsgRoomLeft, protocol.RoomLeftPayload{RoomCode: code}))
}

// leaveCurrent 离开当前房间，失败时仅清空本地状态
func (h *Handler) leaveCurrent(client types.ClientInterface) {
	code := client.GetRoom()
	if code == "" {
		return
	}
	if err := h.roomManager.LeaveRoom(code, client.GetPlayerID()); err != nil {
		client.SetRoom("")
		client.SetPlayerID(0)
	}
}

// handleSetReady 处理准备 / 取消准备
func (h *Handler) handleSetReady(client types.ClientInterface, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.SetReadyPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	code := client.GetRoom()
	if code == "" {
		sendError(client, apperrors.ErrNotInRoom)
		return
	}
	if _, err := h.roomManager.SetReady(code, client.GetPlayerID(), payload.Ready); err != nil {
		sendError(client, err)
	}
}

// handlePhaseAdvance 处理房主的阶段切换请求
func (h *Handler) handlePhaseAdvance(client types.ClientInterface, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.PhaseAdvancePayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	target, err := phase.Parse(payload.TargetPhase)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	code := client.GetRoom()
	if code == "" {
		sendError(client, apperrors.ErrNotInRoom)
		return
	}
	if _, err := h.roomManager.AdvancePhase(code, client.GetPlayerID(), target); err != nil {
		sendError(client, err)
	}
}
