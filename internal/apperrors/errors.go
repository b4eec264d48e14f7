package apperrors

import (
	"errors"

	"github.com/palemoky/party-session/internal/protocol"
)

// GameError 会话层错误，只回复给发起请求的客户端
type GameError struct {
	Code    int
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// 预定义错误
var (
	ErrUnknown           = newError(protocol.ErrCodeUnknown)
	ErrInvalidMessage    = newError(protocol.ErrCodeInvalidMsg)
	ErrRateLimited       = newError(protocol.ErrCodeRateLimit)
	ErrRoomNotFound      = newError(protocol.ErrCodeRoomNotFound)
	ErrRoomFull          = newError(protocol.ErrCodeRoomFull)
	ErrNotInRoom         = newError(protocol.ErrCodeNotInRoom)
	ErrInvalidRoomCode   = newError(protocol.ErrCodeInvalidRoomCode)
	ErrDuplicatePlayer   = newError(protocol.ErrCodeDuplicatePlayer)
	ErrPlayerNotFound    = newError(protocol.ErrCodePlayerNotFound)
	ErrRosterFull        = newError(protocol.ErrCodeRosterFull)
	ErrInvalidPhase      = newError(protocol.ErrCodeInvalidPhase)
	ErrNotAuthorized     = newError(protocol.ErrCodeNotAuthorized)
	ErrInvalidToken      = newError(protocol.ErrCodeInvalidToken)
	ErrReconnectExpired  = newError(protocol.ErrCodeReconnectExpired)
	ErrServerMaintenance = newError(protocol.ErrCodeServerMaintenance)
)

func newError(code int) *GameError {
	return &GameError{Code: code, Message: protocol.ErrorMessages[code]}
}

// Code 提取错误码，非 GameError 一律视为未知错误
func Code(err error) int {
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.Code
	}
	return protocol.ErrCodeUnknown
}
