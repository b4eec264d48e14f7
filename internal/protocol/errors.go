package protocol

// 错误码
const (
	ErrCodeUnknown           = 1000
	ErrCodeInvalidMsg        = 1001
	ErrCodeRateLimit         = 1002 // 速率限制
	ErrCodeRoomNotFound      = 2001
	ErrCodeRoomFull          = 2002
	ErrCodeNotInRoom         = 2003
	ErrCodeInvalidRoomCode   = 2004
	ErrCodeDuplicatePlayer   = 2005
	ErrCodePlayerNotFound    = 2006
	ErrCodeRosterFull        = 2007
	ErrCodeInvalidPhase      = 3001 // 阶段切换条件不满足
	ErrCodeNotAuthorized     = 3002 // 非房主
	ErrCodeInvalidToken      = 3003
	ErrCodeReconnectExpired  = 3004
	ErrCodeServerMaintenance = 5003 // 服务器维护中
)

// ErrorMessages 错误码对应的消息
var ErrorMessages = map[int]string{
	ErrCodeUnknown:           "未知错误",
	ErrCodeInvalidMsg:        "无效的消息格式",
	ErrCodeRateLimit:         "请求过于频繁",
	ErrCodeRoomNotFound:      "房间不存在",
	ErrCodeRoomFull:          "房间已满",
	ErrCodeNotInRoom:         "您不在房间中",
	ErrCodeInvalidRoomCode:   "房间号必须是 6 位数字",
	ErrCodeDuplicatePlayer:   "玩家已在房间中",
	ErrCodePlayerNotFound:    "玩家不存在",
	ErrCodeRosterFull:        "玩家名单已满",
	ErrCodeInvalidPhase:      "当前阶段不允许该操作",
	ErrCodeNotAuthorized:     "只有房主可以执行该操作",
	ErrCodeInvalidToken:      "重连令牌无效",
	ErrCodeReconnectExpired:  "重连已超时",
	ErrCodeServerMaintenance: "服务器维护中",
}
