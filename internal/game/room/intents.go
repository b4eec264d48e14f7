package room

import (
	"time"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/game/roster"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/types"
)

var (
	errRoomClosed = apperrors.ErrRoomNotFound
	errInternal   = apperrors.ErrUnknown
)

type intent interface{ isIntent() }

type envelope struct {
	intent intent
	reply  chan result
}

type result struct {
	snapshot Snapshot
	playerID int
	err      error
}

// 客户端意图
type (
	openIntent struct {
		conn types.ClientInterface
		name string
	}
	joinIntent struct {
		conn types.ClientInterface
		name string
	}
	leaveIntent struct {
		playerID int
	}
	readyIntent struct {
		playerID int
		ready    bool
	}
	advanceIntent struct {
		playerID int
		target   phase.GamePhase
	}
)

// 连接事件
type (
	disconnectIntent struct {
		playerID int
		connID   string
	}
	reconnectIntent struct {
		instance string
		playerID int
		conn     types.ClientInterface
	}
)

// 规则服务与计时器
type (
	roundCompleteIntent struct{ terminal bool }
	advanceTurnIntent   struct{}
	graceExpiredIntent  struct {
		playerID int
		epoch    uint64
	}
	autoAdvanceIntent struct{ round int }
)

// 控制
type (
	snapshotIntent struct{}
	idleCheckIntent struct {
		timeout time.Duration
	}
	shutdownIntent struct{ reason string }
)

func (openIntent) isIntent()          {}
func (joinIntent) isIntent()          {}
func (leaveIntent) isIntent()         {}
func (readyIntent) isIntent()         {}
func (advanceIntent) isIntent()       {}
func (disconnectIntent) isIntent()    {}
func (reconnectIntent) isIntent()     {}
func (roundCompleteIntent) isIntent() {}
func (advanceTurnIntent) isIntent()   {}
func (graceExpiredIntent) isIntent()  {}
func (autoAdvanceIntent) isIntent()   {}
func (snapshotIntent) isIntent()      {}
func (idleCheckIntent) isIntent()     {}
func (shutdownIntent) isIntent()      {}

// handle 校验并执行一个意图。校验全部在修改之前完成，失败时状态不变。
func (r *Room) handle(in intent) result {
	switch in := in.(type) {
	case openIntent:
		return r.handleOpen(in)
	case joinIntent:
		return r.handleJoin(in)
	case leaveIntent:
		return r.handleLeave(in)
	case readyIntent:
		return r.handleReady(in)
	case advanceIntent:
		return r.handleAdvance(in)
	case disconnectIntent:
		r.handleDisconnect(in)
	case reconnectIntent:
		return r.handleReconnect(in)
	case roundCompleteIntent:
		return r.handleRoundComplete(in)
	case advanceTurnIntent:
		if err := r.machine.AdvanceTurn(r.state); err != nil {
			return result{err: err}
		}
		r.commit()
	case graceExpiredIntent:
		r.handleGraceExpired(in)
	case autoAdvanceIntent:
		r.handleAutoAdvance(in)
	case idleCheckIntent:
		if r.state.Roster.ConnectedCount() == 0 && time.Since(r.lastActive) > in.timeout {
			r.log.Info().Msg("🧹 房间空闲超时，已回收")
			r.closeRoom("idle")
		}
	case shutdownIntent:
		r.closeRoom(in.reason)
	case snapshotIntent:
	}
	return result{snapshot: r.snapshot()}
}

func (r *Room) handleOpen(in openIntent) result {
	id, err := r.addPlayer(in.conn, in.name)
	if err != nil {
		return result{err: err}
	}
	if err := r.machine.Transition(r.state, phase.Lobby, phase.TriggerSystem); err != nil {
		return result{err: err}
	}
	r.log.Info().Int("player", id).Str("name", in.name).Msg("🏠 房间已创建")
	return r.welcome(in.conn, id)
}

func (r *Room) handleJoin(in joinIntent) result {
	if r.state.Roster.IsFull() {
		return result{err: apperrors.ErrRoomFull}
	}
	// 对局开始后不接受新玩家，只能通过重连回到房间
	if r.state.Phase != phase.Lobby {
		return result{err: apperrors.ErrInvalidPhase}
	}
	for _, rec := range r.state.Roster.Records() {
		if rec.Conn != nil && rec.Conn.GetID() == in.conn.GetID() {
			return result{err: apperrors.ErrDuplicatePlayer}
		}
	}

	id, err := r.addPlayer(in.conn, in.name)
	if err != nil {
		return result{err: err}
	}
	r.log.Info().Int("player", id).Str("name", in.name).Msg("👤 玩家加入房间")
	return r.welcome(in.conn, id)
}

func (r *Room) addPlayer(conn types.ClientInterface, name string) (int, error) {
	id := r.nextPlayerID
	err := r.state.Roster.Add(roster.PlayerRecord{
		PlayerID:    id,
		DisplayName: name,
		Conn:        conn,
		IsConnected: true,
	})
	if err != nil {
		return 0, err
	}
	r.nextPlayerID++
	conn.SetRoom(r.Code)
	conn.SetPlayerID(id)
	return id, nil
}

// welcome 先给新玩家发送 room_joined，再广播快照
func (r *Room) welcome(conn types.ClientInterface, id int) result {
	r.version++
	snap := r.snapshot()

	token := ""
	if r.deps.Tokens != nil {
		var err error
		if token, err = r.deps.Tokens.Issue(r.Code, r.instance, id); err != nil {
			r.log.Error().Err(err).Int("player", id).Msg("issue reconnect token")
		}
	}
	conn.SendMessage(codec.MustNewMessage(protocol.MsgRoomJoined, protocol.RoomJoinedPayload{
		PlayerID:       id,
		ReconnectToken: token,
		Snapshot:       snap.DTO(),
	}))

	r.publish(snap)
	return result{snapshot: snap, playerID: id}
}

func (r *Room) handleLeave(in leaveIntent) result {
	rec, ok := r.state.Roster.Get(in.playerID)
	if !ok {
		return result{err: apperrors.ErrPlayerNotFound}
	}
	if rec.Conn != nil {
		rec.Conn.SetRoom("")
		rec.Conn.SetPlayerID(0)
	}

	if r.state.GameInProgress {
		// 对局中离开只标记掉线，保留座位到宽限期结束
		_ = r.state.Roster.MarkDisconnected(in.playerID, time.Now())
		r.armGrace(in.playerID)
		r.machine.RefreshSuspended(r.state)
		r.log.Info().Int("player", in.playerID).Msg("👋 玩家在对局中离开，保留座位")
		r.commit()
		return result{snapshot: r.snapshot()}
	}

	r.removePlayer(in.playerID)
	r.log.Info().Int("player", in.playerID).Msg("👋 玩家离开房间")
	if r.state.Roster.Len() == 0 {
		r.closeRoom("empty")
		return result{snapshot: r.snapshot()}
	}
	r.commit()
	return result{snapshot: r.snapshot()}
}

func (r *Room) handleReady(in readyIntent) result {
	if r.state.Phase != phase.Lobby {
		return result{err: apperrors.ErrInvalidPhase}
	}
	if err := r.state.Roster.SetReady(in.playerID, in.ready); err != nil {
		return result{err: err}
	}

	if in.ready && r.machine.CanTransition(r.state, phase.InGame, phase.TriggerReady) == nil {
		_ = r.machine.Transition(r.state, phase.InGame, phase.TriggerReady)
		r.log.Info().Int("players", r.state.Roster.Len()).Msg("🎮 全员准备，对局开始")
	}
	r.commit()
	return result{snapshot: r.snapshot()}
}

func (r *Room) handleAdvance(in advanceIntent) result {
	rec, ok := r.state.Roster.Get(in.playerID)
	if !ok {
		return result{err: apperrors.ErrPlayerNotFound}
	}
	if !rec.IsHost {
		return result{err: apperrors.ErrNotAuthorized}
	}

	from := r.state.Phase
	if err := r.machine.Transition(r.state, in.target, phase.TriggerHost); err != nil {
		return result{err: err}
	}
	r.log.Info().Stringer("from", from).Stringer("to", in.target).Msg("⏭️ 房主推进阶段")
	r.phaseEntered(from)
	r.commit()
	return result{snapshot: r.snapshot()}
}

func (r *Room) handleDisconnect(in disconnectIntent) {
	rec, ok := r.state.Roster.Get(in.playerID)
	// 旧连接的断线事件晚于重连到达时忽略
	if !ok || !rec.IsConnected || rec.Conn == nil || rec.Conn.GetID() != in.connID {
		return
	}

	_ = r.state.Roster.MarkDisconnected(in.playerID, time.Now())
	r.armGrace(in.playerID)
	r.machine.RefreshSuspended(r.state)
	r.log.Info().Int("player", in.playerID).Dur("grace", r.opts.GracePeriod).Msg("📴 玩家掉线")
	r.commit()
}

func (r *Room) handleReconnect(in reconnectIntent) result {
	// 令牌签发自此前使用同一房间号的房间
	if in.instance != r.instance {
		return result{err: apperrors.ErrReconnectExpired}
	}
	rec, ok := r.state.Roster.Get(in.playerID)
	if !ok {
		return result{err: apperrors.ErrPlayerNotFound}
	}
	if old := rec.Conn; old != nil && old.GetID() != in.conn.GetID() && rec.IsConnected {
		// 新连接接管，旧连接的断线事件会因 connID 不同被忽略
		old.SetRoom("")
		old.SetPlayerID(0)
		old.Close()
	}

	_ = r.state.Roster.MarkReconnected(in.playerID, in.conn)
	r.cancelGrace(in.playerID)
	r.machine.RefreshSuspended(r.state)
	in.conn.SetRoom(r.Code)
	in.conn.SetPlayerID(in.playerID)

	r.version++
	snap := r.snapshot()
	in.conn.SendMessage(codec.MustNewMessage(protocol.MsgReconnected, protocol.ReconnectedPayload{
		PlayerID: in.playerID,
		Snapshot: snap.DTO(),
	}))
	r.publish(snap)
	r.log.Info().Int("player", in.playerID).Msg("📶 玩家重连")
	return result{snapshot: snap, playerID: in.playerID}
}

func (r *Room) handleRoundComplete(in roundCompleteIntent) result {
	if err := r.machine.CompleteRound(r.state, in.terminal); err != nil {
		return result{err: err}
	}
	r.log.Info().Int("round", r.state.RoundNumber).Bool("terminal", in.terminal).Msg("🏁 回合结束")
	r.phaseEntered(phase.InGame)
	r.commit()

	// 没有自动推进时，终局信号直接结束对局
	if in.terminal && r.opts.RoundEndDelay <= 0 {
		if err := r.machine.Transition(r.state, phase.GameOver, phase.TriggerRules); err == nil {
			r.log.Info().Msg("🏆 终局，对局结束")
			r.phaseEntered(phase.RoundEnd)
			r.commit()
		}
	}
	return result{snapshot: r.snapshot()}
}

func (r *Room) handleGraceExpired(in graceExpiredIntent) {
	if r.graceEpoch[in.playerID] != in.epoch {
		return
	}
	rec, ok := r.state.Roster.Get(in.playerID)
	if !ok || rec.IsConnected {
		return
	}
	delete(r.graceTimers, in.playerID)

	r.removePlayer(in.playerID)
	r.log.Info().Int("player", in.playerID).Msg("⌛ 重连宽限期结束，移除玩家")
	if r.state.Roster.Len() == 0 {
		r.closeRoom("abandoned")
		return
	}
	r.commit()
}

func (r *Room) handleAutoAdvance(in autoAdvanceIntent) {
	if r.state.Phase != phase.RoundEnd || r.state.RoundNumber != in.round {
		return
	}
	target := r.machine.AfterRoundEnd(r.state)
	if err := r.machine.Transition(r.state, target, phase.TriggerTimer); err != nil {
		return
	}
	r.log.Info().Stringer("to", target).Msg("⏱️ 回合结束自动推进")
	r.phaseEntered(phase.RoundEnd)
	r.commit()
}

// removePlayer 从名单中删除玩家并修正出手指针
func (r *Room) removePlayer(playerID int) {
	idx := r.state.Roster.IndexOf(playerID)
	if idx < 0 {
		return
	}
	r.cancelGrace(playerID)
	delete(r.graceEpoch, playerID)
	_ = r.state.Roster.Remove(playerID)
	r.machine.PlayerRemoved(r.state, idx)
}

// phaseEntered 处理进入新阶段后的副作用
func (r *Room) phaseEntered(from phase.GamePhase) {
	if from == phase.RoundEnd {
		r.stopRoundTimer()
	}
	switch r.state.Phase {
	case phase.RoundEnd:
		r.armRoundTimer()
	case phase.GameOver:
		r.archive()
	default:
		r.stopRoundTimer()
	}
}

// commit 版本号加一，向所有在线玩家广播完整快照
func (r *Room) commit() {
	r.version++
	r.publish(r.snapshot())
}

// publish 广播已经递增过版本号的快照并异步持久化
func (r *Room) publish(snap Snapshot) {
	r.lastActive = time.Now()
	msg := codec.MustNewMessage(protocol.MsgRoomState, protocol.RoomStatePayload{Snapshot: snap.DTO()})
	for _, conn := range r.state.Roster.Connections() {
		conn.SendMessage(msg)
	}
	r.persist(snap)
}
