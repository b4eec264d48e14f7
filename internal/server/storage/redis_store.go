package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/party-session/internal/protocol"
)

const (
	// Redis key 前缀
	roomKeyPrefix = "room:"
	codeKeyPrefix = "room:code:"

	// 未指定 TTL 时房间数据的过期时间
	roomExpiration = 2 * time.Hour
)

// ErrStaleVersion 存储中已有更新版本的快照
var ErrStaleVersion = errors.New("stale room snapshot version")

// saveScript 仅当新版本大于已存版本时写入
//
// KEYS[1] 房间 key；ARGV 依次为 version、data、ttl 毫秒
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RoomData 房间快照（用于 Redis 序列化）
type RoomData struct {
	Code      string                `json:"code"`
	Version   uint64                `json:"version"`
	Snapshot  protocol.RoomSnapshot `json:"snapshot"`
	UpdatedAt int64                 `json:"updated_at"`

	TTL time.Duration `json:"-"`
}

// RedisStore Redis 存储
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// --- 房间快照 ---

// SaveRoom 保存房间快照；旧版本返回 ErrStaleVersion
func (rs *RedisStore) SaveRoom(ctx context.Context, data *RoomData) error {
	if data == nil {
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化房间数据失败: %w", err)
	}

	ttl := data.TTL
	if ttl <= 0 {
		ttl = roomExpiration
	}

	key := roomKeyPrefix + data.Code
	saved, err := saveScript.Run(ctx, rs.client, []string{key},
		strconv.FormatUint(data.Version, 10), jsonData, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("保存房间数据失败: %w", err)
	}
	if saved == 0 {
		return ErrStaleVersion
	}
	return nil
}

// LoadRoom 从 Redis 加载房间快照，不存在时返回 nil
func (rs *RedisStore) LoadRoom(ctx context.Context, code string) (*RoomData, error) {
	key := roomKeyPrefix + code
	jsonData, err := rs.client.HGet(ctx, key, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取房间数据失败: %w", err)
	}

	var data RoomData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("反序列化房间数据失败: %w", err)
	}
	return &data, nil
}

// DeleteRoom 删除房间快照
func (rs *RedisStore) DeleteRoom(ctx context.Context, code string) error {
	return rs.client.Del(ctx, roomKeyPrefix+code).Err()
}

// --- 房间号占用 ---

// ReserveCode 跨实例占用房间号，已被占用时返回 false
func (rs *RedisStore) ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = roomExpiration
	}
	return rs.client.SetNX(ctx, codeKeyPrefix+code, time.Now().Unix(), ttl).Result()
}

// ReleaseCode 释放房间号
func (rs *RedisStore) ReleaseCode(ctx context.Context, code string) error {
	return rs.client.Del(ctx, codeKeyPrefix+code).Err()
}

// RefreshCode 延长房间号占用时间
func (rs *RedisStore) RefreshCode(ctx context.Context, code string, ttl time.Duration) error {
	return rs.client.Expire(ctx, codeKeyPrefix+code, ttl).Err()
}

// GetAllRoomCodes 获取所有已保存快照的房间号
func (rs *RedisStore) GetAllRoomCodes(ctx context.Context) ([]string, error) {
	var codes []string
	iter := rs.client.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// 跳过房间号占用 key
		if strings.HasPrefix(key, codeKeyPrefix) {
			continue
		}
		codes = append(codes, strings.TrimPrefix(key, roomKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}

// Ping 检查连接
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}
