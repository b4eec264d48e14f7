package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// --- 建连速率限制 ---

// RateLimiter 按 IP 的令牌桶限流，超限后在 banDuration 内拒绝该 IP
type RateLimiter struct {
	limiters map[string]*ipLimiter
	mu       sync.Mutex

	limit       rate.Limit
	burst       int
	banDuration time.Duration
	idleTTL     time.Duration
}

type ipLimiter struct {
	limiter     *rate.Limiter
	lastSeen    time.Time
	bannedUntil time.Time
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(perSecond float64, burst int, banDuration time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters:    make(map[string]*ipLimiter),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		banDuration: banDuration,
		idleTTL:     10 * time.Minute,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.allowAt(ip, time.Now())
}

func (rl *RateLimiter) allowAt(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = now

	// 检查是否被封禁
	if now.Before(l.bannedUntil) {
		return false
	}

	if !l.limiter.AllowN(now, 1) {
		l.bannedUntil = now.Add(rl.banDuration)
		log.Warn().Str("ip", ip).Dur("ban", rl.banDuration).Msg("⚠️ IP 请求过于频繁，暂时封禁")
		return false
	}
	return true
}

// IsBanned 检查 IP 是否被封禁
func (rl *RateLimiter) IsBanned(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	return ok && time.Now().Before(l.bannedUntil)
}

// Cleanup 清理长时间无请求且未封禁的记录
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > rl.idleTTL && now.After(l.bannedUntil) {
			delete(rl.limiters, ip)
		}
	}
}

// Len 当前记录的 IP 数
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// --- 来源验证 ---

// OriginChecker 来源验证器
type OriginChecker struct {
	allowedOrigins map[string]bool
	allowAll       bool
}

// NewOriginChecker 创建来源验证器，列表为空或包含 * 时允许所有来源
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{
		allowedOrigins: make(map[string]bool),
		allowAll:       len(origins) == 0,
	}

	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			return oc
		}
		oc.allowedOrigins[strings.ToLower(origin)] = true
	}

	return oc
}

// Check 检查来源是否允许
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// 没有 Origin 头，可能是同源请求或本地客户端
		return true
	}

	return oc.allowedOrigins[strings.ToLower(origin)]
}

// --- 辅助函数 ---

// GetClientIP 获取客户端真实 IP
func GetClientIP(r *http.Request) string {
	// 检查代理头
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// 取第一个 IP（最原始的客户端）
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// 从连接中获取
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// --- 消息速率限制 ---

// maxWarnings 超速次数达到后断开连接
const maxWarnings = 5

// MessageLimiter 单个连接的消息速率限制器
type MessageLimiter struct {
	limiter  *rate.Limiter
	warnings int
}

// NewMessageLimiter 创建消息速率限制器
func NewMessageLimiter(perSecond float64, burst int) *MessageLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow 检查是否允许处理消息；超限时累计警告次数
func (ml *MessageLimiter) Allow() bool {
	return ml.allowAt(time.Now())
}

func (ml *MessageLimiter) allowAt(now time.Time) bool {
	if ml.limiter.AllowN(now, 1) {
		return true
	}
	ml.warnings++
	return false
}

// Exceeded 是否已多次超速
func (ml *MessageLimiter) Exceeded() bool {
	return ml.warnings > maxWarnings
}
