package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/game/roster"
	"github.com/palemoky/party-session/internal/logger"
	"github.com/palemoky/party-session/internal/protocol"
)

const (
	inboxSize    = 64 // 房间意图队列
	outboxSize   = 32 // 持久化 / 事件发布队列
	storeTimeout = 3 * time.Second
)

// Snapshot 房间完整状态的只读副本
type Snapshot struct {
	RoomCode          string
	Phase             phase.GamePhase
	Players           []protocol.PlayerView
	CurrentPlayerTurn int
	GameInProgress    bool
	RoundNumber       int
	Suspended         bool
	Version           uint64
}

// JoinResult 创建或加入房间的结果
type JoinResult struct {
	Code     string
	PlayerID int
	Snapshot Snapshot
}

// Room 单个房间。
//
// 所有状态只在 run 协程中读写：外部通过 inbox 投递意图，按接收顺序逐个处理，
// 不同房间之间没有共享的可变状态。
type Room struct {
	Code string
	// instance 区分先后复用同一房间号的房间，写入重连令牌
	instance string

	state   *phase.State
	machine *phase.Machine
	opts    Options
	deps    Deps
	log     zerolog.Logger

	inbox  chan envelope
	done   chan struct{}
	outbox chan sideEffect

	version      uint64
	nextPlayerID int
	lastActive   time.Time
	closed       bool

	graceTimers map[int]*time.Timer
	graceEpoch  map[int]uint64
	roundTimer  *time.Timer

	onClose func(code string)
}

func newRoom(code string, opts Options, deps Deps, onClose func(string)) *Room {
	return &Room{
		Code:         code,
		instance:     uuid.NewString(),
		state:        phase.NewState(roster.New(opts.MaxPlayers)),
		machine:      phase.NewMachine(opts.MinPlayers, opts.MaxRounds),
		opts:         opts,
		deps:         deps,
		log:          logger.Room(code),
		inbox:        make(chan envelope, inboxSize),
		done:         make(chan struct{}),
		outbox:       make(chan sideEffect, outboxSize),
		nextPlayerID: 1,
		lastActive:   time.Now(),
		graceTimers:  make(map[int]*time.Timer),
		graceEpoch:   make(map[int]uint64),
		onClose:      onClose,
	}
}

func (r *Room) start() {
	go r.run()
	go r.drainOutbox()
}

// run 房间的单写者处理循环
func (r *Room) run() {
	for env := range r.inbox {
		res := r.dispatch(env.intent)
		if env.reply != nil {
			env.reply <- res
		}
		if r.closed {
			return
		}
	}
}

func (r *Room) dispatch(in intent) (res result) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.LogPanic(rec)
			res = result{err: errInternal}
		}
	}()
	return r.handle(in)
}

// submit 投递意图并等待处理结果；房间已关闭时返回 ErrRoomNotFound
func (r *Room) submit(in intent) result {
	reply := make(chan result, 1)
	select {
	case r.inbox <- envelope{intent: in, reply: reply}:
	case <-r.done:
		return result{err: errRoomClosed}
	}

	select {
	case res := <-reply:
		return res
	case <-r.done:
		// 关闭前处理的最后一个意图仍然有结果
		select {
		case res := <-reply:
			return res
		default:
			return result{err: errRoomClosed}
		}
	}
}

// post 投递不需要结果的意图（断线事件、计时器）
func (r *Room) post(in intent) {
	select {
	case r.inbox <- envelope{intent: in}:
	case <-r.done:
	}
}

// Done 房间关闭后返回的 channel 被关闭
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) snapshot() Snapshot {
	records := r.state.Roster.Records()
	players := make([]protocol.PlayerView, len(records))
	for i, rec := range records {
		players[i] = protocol.PlayerView{
			PlayerID:    rec.PlayerID,
			DisplayName: rec.DisplayName,
			IsHost:      rec.IsHost,
			IsReady:     rec.IsReady,
			IsConnected: rec.IsConnected,
		}
	}
	return Snapshot{
		RoomCode:          r.Code,
		Phase:             r.state.Phase,
		Players:           players,
		CurrentPlayerTurn: r.state.CurrentPlayerTurn,
		GameInProgress:    r.state.GameInProgress,
		RoundNumber:       r.state.RoundNumber,
		Suspended:         r.state.Suspended,
		Version:           r.version,
	}
}
