package protocol

// --- 客户端请求 Payloads ---

// ReconnectPayload 断线重连请求
type ReconnectPayload struct {
	Token string `json:"token"` // 重连令牌
}

// PingPayload 心跳请求
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // 客户端时间戳（毫秒）
}

// CreateRoomPayload 创建房间请求
type CreateRoomPayload struct {
	PlayerName string `json:"player_name"`
}

// JoinRoomPayload 加入房间请求
type JoinRoomPayload struct {
	RoomCode   string `json:"room_code"`
	PlayerName string `json:"player_name"`
}

// SetReadyPayload 准备状态
type SetReadyPayload struct {
	Ready bool `json:"ready"`
}

// PhaseAdvancePayload 房主请求切换阶段
type PhaseAdvancePayload struct {
	TargetPhase string `json:"target_phase"` // lobby/in_game/round_end/game_over
}

// --- 服务端响应 Payloads ---

// ConnectedPayload 连接成功响应
type ConnectedPayload struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
}

// RoomJoinedPayload 创建或加入房间成功
type RoomJoinedPayload struct {
	PlayerID       int          `json:"player_id"`
	ReconnectToken string       `json:"reconnect_token"`
	Snapshot       RoomSnapshot `json:"snapshot"`
}

// ReconnectedPayload 重连成功响应
type ReconnectedPayload struct {
	PlayerID int          `json:"player_id"`
	Snapshot RoomSnapshot `json:"snapshot"`
}

// RoomStatePayload 房间快照广播
type RoomStatePayload struct {
	Snapshot RoomSnapshot `json:"snapshot"`
}

// RoomClosedPayload 房间关闭通知
type RoomClosedPayload struct {
	RoomCode string `json:"room_code"`
	Reason   string `json:"reason"`
}

// RoomLeftPayload 主动离开房间的确认
type RoomLeftPayload struct {
	RoomCode string `json:"room_code"`
}

// PongPayload 心跳响应
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"` // 客户端发送的时间戳
	ServerTimestamp int64 `json:"server_timestamp"` // 服务器时间戳（毫秒）
}

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// --- 快照 ---

// RoomSnapshot 房间完整状态，每次变更后整体下发
type RoomSnapshot struct {
	RoomCode          string       `json:"room_code"`
	Phase             string       `json:"phase"`
	Roster            []PlayerView `json:"roster"`
	CurrentPlayerTurn int          `json:"current_player_turn"`
	GameInProgress    bool         `json:"game_in_progress"`
	RoundNumber       int          `json:"round_number"`
	Suspended         bool         `json:"suspended"`
	Version           uint64       `json:"version"`
}

// PlayerView 快照中的玩家信息
type PlayerView struct {
	PlayerID    int    `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
	IsReady     bool   `json:"is_ready"`
	IsConnected bool   `json:"is_connected"`
}
