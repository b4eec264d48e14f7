package transport

import (
	"time"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

// --- 便捷方法 ---

// CreateRoom 创建房间
func (c *Client) CreateRoom(name string) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgCreateRoom, protocol.CreateRoomPayload{
		PlayerName: name,
	}))
}

// JoinRoom 加入房间
func (c *Client) JoinRoom(roomCode, name string) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgJoinRoom, protocol.JoinRoomPayload{
		RoomCode:   roomCode,
		PlayerName: name,
	}))
}

// LeaveRoom 离开房间
func (c *Client) LeaveRoom() error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgLeaveRoom, nil))
}

// SetReady 准备 / 取消准备
func (c *Client) SetReady(ready bool) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgSetReady, protocol.SetReadyPayload{
		Ready: ready,
	}))
}

// AdvancePhase 房主请求切换阶段
func (c *Client) AdvancePhase(target string) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgRequestPhaseAdvance, protocol.PhaseAdvancePayload{
		TargetPhase: target,
	}))
}

// Ping 发送心跳
func (c *Client) Ping() error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgPing, protocol.PingPayload{
		Timestamp: time.Now().UnixMilli(),
	}))
}
