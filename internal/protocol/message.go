package protocol

import "encoding/json"

// Message 基础消息结构
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageType 消息类型
type MessageType string

// 客户端 → 服务端 消息类型
const (
	// 连接操作
	MsgReconnect MessageType = "reconnect" // 断线重连
	MsgPing      MessageType = "ping"      // 心跳 ping

	// 房间操作
	MsgCreateRoom          MessageType = "create_room"           // 创建房间
	MsgJoinRoom            MessageType = "join_room"             // 加入房间
	MsgLeaveRoom           MessageType = "leave_room"            // 离开房间
	MsgSetReady            MessageType = "set_ready"             // 准备 / 取消准备
	MsgRequestPhaseAdvance MessageType = "request_phase_advance" // 房主推进阶段
)

// 服务端 → 客户端 消息类型
const (
	// 连接相关
	MsgConnected   MessageType = "connected"   // 连接成功
	MsgReconnected MessageType = "reconnected" // 重连成功
	MsgPong        MessageType = "pong"        // 心跳 pong

	// 房间相关
	MsgRoomJoined MessageType = "room_joined" // 创建或加入房间成功
	MsgRoomLeft   MessageType = "room_left"   // 已离开房间
	MsgRoomState  MessageType = "room_state"  // 房间完整快照
	MsgRoomClosed MessageType = "room_closed" // 房间被关闭

	// 错误
	MsgError MessageType = "error" // 错误消息
)
