// Package session 签发和校验断线重连令牌。
//
// 令牌是 HS256 签名的 JWT，携带房间号、房间实例标识和玩家编号；服务端不保存会话表，
// 玩家记录本身由房间在宽限期内保留。房间号关闭后可以被新房间复用，
// 实例标识保证旧令牌无法接管新房间里的同号座位。
package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/palemoky/party-session/internal/apperrors"
)

const issuer = "party-session"

// reconnectClaims 重连令牌载荷
type reconnectClaims struct {
	RoomCode string `json:"room"`
	Instance string `json:"rid"`
	PlayerID int    `json:"pid"`
	jwt.RegisteredClaims
}

// TokenIssuer 重连令牌签发器
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer 创建签发器，secret 为空时返回错误
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue 为房间内的玩家签发令牌
func (ti *TokenIssuer) Issue(code, instance string, playerID int) (string, error) {
	return ti.IssueAt(code, instance, playerID, time.Now())
}

// IssueAt 以指定时间作为签发时间
func (ti *TokenIssuer) IssueAt(code, instance string, playerID int, now time.Time) (string, error) {
	claims := reconnectClaims{
		RoomCode: code,
		Instance: instance,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   code + ":" + strconv.Itoa(playerID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

// Verify 校验令牌，返回房间号、房间实例标识和玩家编号。
// 过期返回 ErrReconnectExpired，其余失败返回 ErrInvalidToken。
func (ti *TokenIssuer) Verify(token string) (string, string, int, error) {
	claims := &reconnectClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", 0, apperrors.ErrReconnectExpired
		}
		return "", "", 0, apperrors.ErrInvalidToken
	}
	if !parsed.Valid || claims.RoomCode == "" || claims.Instance == "" || claims.PlayerID <= 0 {
		return "", "", 0, apperrors.ErrInvalidToken
	}
	return claims.RoomCode, claims.Instance, claims.PlayerID, nil
}
