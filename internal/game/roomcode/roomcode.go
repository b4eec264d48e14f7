// Package roomcode 生成和校验 6 位数字房间号
package roomcode

import (
	"errors"
	"math/rand/v2"
)

const (
	Length      = 6            // 房间号长度
	chars       = "0123456789" // 房间号字符集
	maxAttempts = 64
)

// ErrExhausted 多次重试后仍未找到空闲房间号
var ErrExhausted = errors.New("roomcode: no free code after retries")

// Generate 生成一个 6 位数字房间号，允许前导 0，不检查冲突
func Generate() string {
	code := make([]byte, Length)
	for i := range code {
		code[i] = chars[rand.IntN(len(chars))]
	}
	return string(code)
}

// IsValid 判断是否是合法房间号：长度恰好为 6 且全部是十进制数字
func IsValid(candidate string) bool {
	if len(candidate) != Length {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if candidate[i] < '0' || candidate[i] > '9' {
			return false
		}
	}
	return true
}

// Allocate 生成房间号并交给 reserve 占用，冲突时重新生成。
// reserve 返回 false 表示该房间号已被活跃房间使用。
func Allocate(reserve func(code string) bool) (string, error) {
	for range maxAttempts {
		code := Generate()
		if reserve(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}
