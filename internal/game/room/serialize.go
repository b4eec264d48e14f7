package room

import (
	"time"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/server/storage"
)

// DTO 转换为协议快照
func (s Snapshot) DTO() protocol.RoomSnapshot {
	return protocol.RoomSnapshot{
		RoomCode:          s.RoomCode,
		Phase:             s.Phase.String(),
		Roster:            s.Players,
		CurrentPlayerTurn: s.CurrentPlayerTurn,
		GameInProgress:    s.GameInProgress,
		RoundNumber:       s.RoundNumber,
		Suspended:         s.Suspended,
		Version:           s.Version,
	}
}

// RoomData 转换为 Redis 存储结构
func (s Snapshot) RoomData(ttl time.Duration) *storage.RoomData {
	return &storage.RoomData{
		Code:      s.RoomCode,
		Version:   s.Version,
		Snapshot:  s.DTO(),
		UpdatedAt: time.Now().Unix(),
		TTL:       ttl,
	}
}

// MatchRecord 转换为对局归档
func (s Snapshot) MatchRecord(finishedAt time.Time) *storage.MatchRecord {
	return &storage.MatchRecord{
		RoomCode:   s.RoomCode,
		Rounds:     s.RoundNumber,
		Players:    s.Players,
		FinishedAt: finishedAt,
	}
}

// Host 返回快照中的房主
func (s Snapshot) Host() (protocol.PlayerView, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return protocol.PlayerView{}, false
}
