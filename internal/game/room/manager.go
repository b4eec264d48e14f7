package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/config"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/game/roomcode"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/server/storage"
	"github.com/palemoky/party-session/internal/types"
)

// Store 房间快照和房间号占用的存储
type Store interface {
	ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error)
	ReleaseCode(ctx context.Context, code string) error
	RefreshCode(ctx context.Context, code string, ttl time.Duration) error
	SaveRoom(ctx context.Context, data *storage.RoomData) error
	DeleteRoom(ctx context.Context, code string) error
}

// Publisher 向展示层等订阅方发布快照
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap protocol.RoomSnapshot) error
}

// Archive 保存已结束的对局
type Archive interface {
	RecordMatch(ctx context.Context, rec *storage.MatchRecord) error
}

// TokenIssuer 签发重连令牌
type TokenIssuer interface {
	Issue(code, instance string, playerID int) (string, error)
}

// Deps 房间管理器的外部依赖，均可为 nil
type Deps struct {
	Store   Store
	Events  Publisher
	Archive Archive
	Tokens  TokenIssuer
}

// Options 房间策略参数
type Options struct {
	MaxPlayers      int
	MinPlayers      int
	MaxRounds       int
	GracePeriod     time.Duration
	RoundEndDelay   time.Duration // 0 表示不自动推进
	RoomTimeout     time.Duration
	CleanupInterval time.Duration
}

// OptionsFromConfig 从游戏配置构造策略参数
func OptionsFromConfig(cfg *config.GameConfig) Options {
	return Options{
		MaxPlayers:      cfg.MaxPlayers,
		MinPlayers:      cfg.MinPlayers,
		MaxRounds:       cfg.MaxRounds,
		GracePeriod:     cfg.GracePeriodDuration(),
		RoundEndDelay:   cfg.RoundEndDelayDuration(),
		RoomTimeout:     cfg.RoomTimeoutDuration(),
		CleanupInterval: time.Minute,
	}
}

// RoomManager 会话管理器：按房间号路由意图，每个房间独立串行处理。
// mu 只保护房间表本身，不跨房间加锁。
type RoomManager struct {
	opts  Options
	deps  Deps
	rooms map[string]*Room
	mu    sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRoomManager 创建房间管理器
func NewRoomManager(opts Options, deps Deps) *RoomManager {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 4
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	rm := &RoomManager{
		opts:  opts,
		deps:  deps,
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}

	// 启动房间清理协程
	go rm.cleanupLoop()

	return rm
}

// CreateRoom 分配新房间号，创建者成为房主，房间进入 Lobby
func (rm *RoomManager) CreateRoom(client types.ClientInterface, name string) (JoinResult, error) {
	var room *Room
	code, err := roomcode.Allocate(func(code string) bool {
		room = rm.claim(code)
		return room != nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	room.start()
	res := room.submit(openIntent{conn: client, name: name})
	if res.err != nil {
		room.post(shutdownIntent{reason: "open failed"})
		return JoinResult{}, res.err
	}
	return JoinResult{Code: code, PlayerID: res.playerID, Snapshot: res.snapshot}, nil
}

// claim 占用房间号并登记新房间，失败返回 nil。
// 共享存储的占用在 rm.mu 之外完成，rm.mu 只覆盖房间表的检查和写入。
func (rm *RoomManager) claim(code string) *Room {
	rm.mu.RLock()
	_, exists := rm.rooms[code]
	rm.mu.RUnlock()
	if exists {
		return nil
	}

	reserved, ok := rm.reserveShared(code)
	if !ok {
		return nil
	}

	rm.mu.Lock()
	if _, exists := rm.rooms[code]; exists {
		rm.mu.Unlock()
		// 并发创建抢先登记了同一个房间号
		if reserved {
			rm.releaseShared(code)
		}
		return nil
	}
	room := newRoom(code, rm.opts, rm.deps, rm.forget)
	rm.rooms[code] = room
	rm.mu.Unlock()
	return room
}

// reserveShared 在共享存储中占用房间号。
// reserved 表示存储中确实写入了占用，ok 表示房间号可用。
func (rm *RoomManager) reserveShared(code string) (reserved, ok bool) {
	if rm.deps.Store == nil {
		return false, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	ok, err := rm.deps.Store.ReserveCode(ctx, code, rm.opts.RoomTimeout)
	if err != nil {
		// 存储不可用时退化为单机唯一
		log.Warn().Err(err).Str("room", code).Msg("reserve room code")
		return false, true
	}
	return ok, ok
}

func (rm *RoomManager) releaseShared(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := rm.deps.Store.ReleaseCode(ctx, code); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("release room code")
	}
}

// forget 房间关闭时从房间表移除
func (rm *RoomManager) forget(code string) {
	rm.mu.Lock()
	delete(rm.rooms, code)
	rm.mu.Unlock()
}

func (rm *RoomManager) lookup(code string) (*Room, error) {
	if !roomcode.IsValid(code) {
		return nil, apperrors.ErrInvalidRoomCode
	}
	rm.mu.RLock()
	room, ok := rm.rooms[code]
	rm.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return room, nil
}

// JoinRoom 加入 Lobby 阶段的房间
func (rm *RoomManager) JoinRoom(code string, client types.ClientInterface, name string) (JoinResult, error) {
	room, err := rm.lookup(code)
	if err != nil {
		return JoinResult{}, err
	}
	res := room.submit(joinIntent{conn: client, name: name})
	if res.err != nil {
		return JoinResult{}, res.err
	}
	return JoinResult{Code: code, PlayerID: res.playerID, Snapshot: res.snapshot}, nil
}

// LeaveRoom 主动离开；对局中只标记掉线，否则移除，最后一人离开时房间解散
func (rm *RoomManager) LeaveRoom(code string, playerID int) error {
	_, err := rm.do(code, leaveIntent{playerID: playerID})
	return err
}

// SetReady 设置准备状态，全员准备后自动开始对局
func (rm *RoomManager) SetReady(code string, playerID int, ready bool) (Snapshot, error) {
	return rm.do(code, readyIntent{playerID: playerID, ready: ready})
}

// AdvancePhase 房主请求切换阶段
func (rm *RoomManager) AdvancePhase(code string, playerID int, target phase.GamePhase) (Snapshot, error) {
	return rm.do(code, advanceIntent{playerID: playerID, target: target})
}

// Reconnect 用新连接恢复原玩家记录，instance 取自重连令牌
func (rm *RoomManager) Reconnect(code, instance string, playerID int, client types.ClientInterface) (Snapshot, error) {
	return rm.do(code, reconnectIntent{instance: instance, playerID: playerID, conn: client})
}

// CompleteRound 规则服务通知回合结束，terminal 表示已达成终局条件
func (rm *RoomManager) CompleteRound(code string, terminal bool) (Snapshot, error) {
	return rm.do(code, roundCompleteIntent{terminal: terminal})
}

// AdvanceTurn 规则服务通知轮到下一位玩家
func (rm *RoomManager) AdvanceTurn(code string) (Snapshot, error) {
	return rm.do(code, advanceTurnIntent{})
}

// Snapshot 读取房间当前快照
func (rm *RoomManager) Snapshot(code string) (Snapshot, error) {
	return rm.do(code, snapshotIntent{})
}

// Disconnect 传输层检测到连接断开。connID 用于忽略已被新连接替换的旧连接。
func (rm *RoomManager) Disconnect(code string, playerID int, connID string) {
	room, err := rm.lookup(code)
	if err != nil {
		return
	}
	room.post(disconnectIntent{playerID: playerID, connID: connID})
}

func (rm *RoomManager) do(code string, in intent) (Snapshot, error) {
	room, err := rm.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}
	res := room.submit(in)
	return res.snapshot, res.err
}

// RoomCount 活跃房间数量
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// GetActiveGamesCount 获取进行中的对局数量
func (rm *RoomManager) GetActiveGamesCount() int {
	count := 0
	for _, room := range rm.snapshotRooms() {
		if snap := room.submit(snapshotIntent{}); snap.err == nil && snap.snapshot.GameInProgress {
			count++
		}
	}
	return count
}

func (rm *RoomManager) snapshotRooms() []*Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	rooms := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Shutdown 通知所有房间关闭并等待处理完成
func (rm *RoomManager) Shutdown(ctx context.Context, reason string) error {
	rm.Close()
	for _, room := range rm.snapshotRooms() {
		room.post(shutdownIntent{reason: reason})
	}
	for _, room := range rm.snapshotRooms() {
		select {
		case <-room.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close 停止清理协程
func (rm *RoomManager) Close() {
	rm.stopOnce.Do(func() { close(rm.stop) })
}

// cleanupLoop 定期回收无人在线且长时间无变更的房间
func (rm *RoomManager) cleanupLoop() {
	ticker := time.NewTicker(rm.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.cleanup()
		case <-rm.stop:
			return
		}
	}
}

func (rm *RoomManager) cleanup() {
	for _, room := range rm.snapshotRooms() {
		room.post(idleCheckIntent{timeout: rm.opts.RoomTimeout})
	}
}
