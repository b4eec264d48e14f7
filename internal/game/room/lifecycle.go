package room

import (
	"context"
	"time"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

type sideEffect func(ctx context.Context)

// armGrace 为掉线玩家启动重连宽限计时器
func (r *Room) armGrace(playerID int) {
	r.cancelGrace(playerID)
	r.graceEpoch[playerID]++
	epoch := r.graceEpoch[playerID]
	r.graceTimers[playerID] = time.AfterFunc(r.opts.GracePeriod, func() {
		r.post(graceExpiredIntent{playerID: playerID, epoch: epoch})
	})
}

// cancelGrace 停止计时器并使已经触发的到期事件失效
func (r *Room) cancelGrace(playerID int) {
	if t, ok := r.graceTimers[playerID]; ok {
		t.Stop()
		delete(r.graceTimers, playerID)
	}
	r.graceEpoch[playerID]++
}

func (r *Room) armRoundTimer() {
	r.stopRoundTimer()
	if r.opts.RoundEndDelay <= 0 {
		return
	}
	round := r.state.RoundNumber
	r.roundTimer = time.AfterFunc(r.opts.RoundEndDelay, func() {
		r.post(autoAdvanceIntent{round: round})
	})
}

func (r *Room) stopRoundTimer() {
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

// closeRoom 关闭房间：通知在线玩家、停止计时器、释放房间号。
// 只能在 run 协程中调用。
func (r *Room) closeRoom(reason string) {
	if r.closed {
		return
	}
	r.closed = true

	msg := codec.MustNewMessage(protocol.MsgRoomClosed, protocol.RoomClosedPayload{
		RoomCode: r.Code,
		Reason:   reason,
	})
	for _, conn := range r.state.Roster.Connections() {
		conn.SendMessage(msg)
		conn.SetRoom("")
		conn.SetPlayerID(0)
	}

	for id, t := range r.graceTimers {
		t.Stop()
		delete(r.graceTimers, id)
	}
	r.stopRoundTimer()

	code := r.Code
	if store := r.deps.Store; store != nil {
		r.outbox <- func(ctx context.Context) {
			if err := store.DeleteRoom(ctx, code); err != nil {
				r.log.Warn().Err(err).Msg("delete room snapshot")
			}
			if err := store.ReleaseCode(ctx, code); err != nil {
				r.log.Warn().Err(err).Msg("release room code")
			}
		}
	}
	close(r.outbox)
	close(r.done)

	if r.onClose != nil {
		r.onClose(code)
	}
	r.log.Info().Str("reason", reason).Msg("🏠 房间已解散")
}

// persist 异步保存快照并发布事件；队列满时丢弃，下一次快照会覆盖
func (r *Room) persist(snap Snapshot) {
	if r.deps.Store == nil && r.deps.Events == nil {
		return
	}
	store, events := r.deps.Store, r.deps.Events
	effect := func(ctx context.Context) {
		if store != nil {
			if err := store.SaveRoom(ctx, snap.RoomData(r.opts.RoomTimeout)); err != nil {
				r.log.Warn().Err(err).Uint64("version", snap.Version).Msg("save room snapshot")
			} else if err := store.RefreshCode(ctx, r.Code, r.opts.RoomTimeout); err != nil {
				// 活跃房间续期房间号，避免超过占用时长后被其他实例分配
				r.log.Warn().Err(err).Msg("refresh room code")
			}
		}
		if events != nil {
			if err := events.PublishSnapshot(ctx, snap.DTO()); err != nil {
				r.log.Warn().Err(err).Uint64("version", snap.Version).Msg("publish room snapshot")
			}
		}
	}
	select {
	case r.outbox <- effect:
	default:
		r.log.Debug().Uint64("version", snap.Version).Msg("outbox full, snapshot persistence skipped")
	}
}

// archive 对局结束后写入归档
func (r *Room) archive() {
	archive := r.deps.Archive
	if archive == nil {
		return
	}
	rec := r.snapshot().MatchRecord(time.Now())
	r.outbox <- func(ctx context.Context) {
		if err := archive.RecordMatch(ctx, rec); err != nil {
			r.log.Error().Err(err).Msg("archive match")
		}
	}
}

// drainOutbox 按顺序执行副作用，保证同一房间的快照按版本顺序写出
func (r *Room) drainOutbox() {
	for effect := range r.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		effect(ctx)
		cancel()
	}
}
