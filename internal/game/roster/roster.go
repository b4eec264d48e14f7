// Package roster 维护单个房间内按加入顺序排列的玩家名单
package roster

import (
	"time"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/types"
)

// DefaultCapacity 默认房间人数上限
const DefaultCapacity = 4

// PlayerRecord 房间内的一名玩家
type PlayerRecord struct {
	PlayerID       int
	DisplayName    string
	Conn           types.ClientInterface
	IsHost         bool
	IsReady        bool
	IsConnected    bool
	JoinedAt       time.Time
	DisconnectedAt time.Time
}

// Roster 玩家名单，顺序即加入顺序，也是默认出手顺序。
// 非并发安全，由所属房间的处理循环独占访问。
type Roster struct {
	records  []*PlayerRecord
	capacity int
}

// New 创建名单，capacity <= 0 时使用默认上限
func New(capacity int) *Roster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Roster{
		records:  make([]*PlayerRecord, 0, capacity),
		capacity: capacity,
	}
}

// Add 追加玩家，第一个加入的玩家成为房主
func (r *Roster) Add(rec PlayerRecord) error {
	if len(r.records) >= r.capacity {
		return apperrors.ErrRosterFull
	}
	if r.IndexOf(rec.PlayerID) >= 0 {
		return apperrors.ErrDuplicatePlayer
	}
	if rec.JoinedAt.IsZero() {
		rec.JoinedAt = time.Now()
	}
	rec.IsHost = len(r.records) == 0
	r.records = append(r.records, &rec)
	return nil
}

// Remove 移除玩家；如果移除的是房主，房主转交给最早加入的剩余玩家
func (r *Roster) Remove(playerID int) error {
	idx := r.IndexOf(playerID)
	if idx < 0 {
		return apperrors.ErrPlayerNotFound
	}
	wasHost := r.records[idx].IsHost
	r.records = append(r.records[:idx], r.records[idx+1:]...)
	if wasHost && len(r.records) > 0 {
		r.records[0].IsHost = true
	}
	return nil
}

// MarkDisconnected 标记掉线，保留记录和位置
func (r *Roster) MarkDisconnected(playerID int, at time.Time) error {
	rec := r.find(playerID)
	if rec == nil {
		return apperrors.ErrPlayerNotFound
	}
	rec.IsConnected = false
	rec.DisconnectedAt = at
	return nil
}

// MarkReconnected 用新连接恢复原记录，playerID 和位置不变
func (r *Roster) MarkReconnected(playerID int, conn types.ClientInterface) error {
	rec := r.find(playerID)
	if rec == nil {
		return apperrors.ErrPlayerNotFound
	}
	rec.Conn = conn
	rec.IsConnected = true
	rec.DisconnectedAt = time.Time{}
	return nil
}

// SetReady 设置准备状态
func (r *Roster) SetReady(playerID int, ready bool) error {
	rec := r.find(playerID)
	if rec == nil {
		return apperrors.ErrPlayerNotFound
	}
	rec.IsReady = ready
	return nil
}

// ClearReady 清空所有人的准备状态
func (r *Roster) ClearReady() {
	for _, rec := range r.records {
		rec.IsReady = false
	}
}

// AllReady 名单非空且所有在线玩家都已准备
func (r *Roster) AllReady() bool {
	if len(r.records) == 0 {
		return false
	}
	for _, rec := range r.records {
		if rec.IsConnected && !rec.IsReady {
			return false
		}
	}
	return true
}

// NextConnected 从 from 开始按加入顺序循环查找第一个在线玩家，没有则返回 -1
func (r *Roster) NextConnected(from int) int {
	n := len(r.records)
	if n == 0 {
		return -1
	}
	from = ((from % n) + n) % n
	for i := range n {
		idx := (from + i) % n
		if r.records[idx].IsConnected {
			return idx
		}
	}
	return -1
}

// IndexOf 返回玩家位置，不存在返回 -1
func (r *Roster) IndexOf(playerID int) int {
	for i, rec := range r.records {
		if rec.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Get 返回玩家记录副本
func (r *Roster) Get(playerID int) (PlayerRecord, bool) {
	rec := r.find(playerID)
	if rec == nil {
		return PlayerRecord{}, false
	}
	return *rec, true
}

// Host 返回房主
func (r *Roster) Host() (PlayerRecord, bool) {
	for _, rec := range r.records {
		if rec.IsHost {
			return *rec, true
		}
	}
	return PlayerRecord{}, false
}

// Records 按加入顺序返回所有记录的副本
func (r *Roster) Records() []PlayerRecord {
	out := make([]PlayerRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

// Connections 返回所有在线玩家的连接，用于广播
func (r *Roster) Connections() []types.ClientInterface {
	conns := make([]types.ClientInterface, 0, len(r.records))
	for _, rec := range r.records {
		if rec.IsConnected && rec.Conn != nil {
			conns = append(conns, rec.Conn)
		}
	}
	return conns
}

// ConnectedCount 在线人数
func (r *Roster) ConnectedCount() int {
	n := 0
	for _, rec := range r.records {
		if rec.IsConnected {
			n++
		}
	}
	return n
}

func (r *Roster) Len() int      { return len(r.records) }
func (r *Roster) Capacity() int { return r.capacity }
func (r *Roster) IsFull() bool  { return len(r.records) >= r.capacity }

func (r *Roster) find(playerID int) *PlayerRecord {
	if idx := r.IndexOf(playerID); idx >= 0 {
		return r.records[idx]
	}
	return nil
}
