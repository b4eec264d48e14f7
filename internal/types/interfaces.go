package types

import (
	"github.com/palemoky/party-session/internal/protocol"
)

// ServerInterface 定义服务器接口（用于打破循环依赖）
type ServerInterface interface {
	IsMaintenanceMode() bool
	GetOnlineCount() int
}

// ClientInterface 定义客户端接口
//
// 房间只通过该接口向连接投递消息，SendMessage 必须是非阻塞的。
type ClientInterface interface {
	GetID() string
	GetName() string
	GetRoom() string
	SetRoom(code string)
	GetPlayerID() int
	SetPlayerID(id int)
	SendMessage(msg *protocol.Message)
	Close()
}
