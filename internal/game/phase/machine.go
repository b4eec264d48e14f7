package phase

import (
	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/roster"
)

// NoTurn 表示当前没有人出手
const NoTurn = -1

// State 房间的权威状态，只由所属房间的处理循环修改
type State struct {
	Phase             GamePhase
	Roster            *roster.Roster
	CurrentPlayerTurn int
	GameInProgress    bool
	RoundNumber       int
	Suspended         bool // 对局中所有玩家掉线，暂停出手
	Terminal          bool // 规则服务报告已达成终局条件
}

// NewState 创建处于 MainMenu 的状态
func NewState(r *roster.Roster) *State {
	return &State{Phase: MainMenu, Roster: r, CurrentPlayerTurn: NoTurn}
}

type edge struct {
	from, to GamePhase
}

type transition struct {
	triggers []Trigger
	guard    func(m *Machine, s *State) bool
	effect   func(m *Machine, s *State)
}

// Machine 阶段状态机，本身无状态，可被多个房间共享
type Machine struct {
	minPlayers int
	maxRounds  int
	table      map[edge]transition
}

// NewMachine 创建状态机；maxRounds <= 0 表示不限回合
func NewMachine(minPlayers, maxRounds int) *Machine {
	if minPlayers < 1 {
		minPlayers = 1
	}
	m := &Machine{minPlayers: minPlayers, maxRounds: maxRounds}
	m.table = map[edge]transition{
		{MainMenu, Lobby}: {
			triggers: []Trigger{TriggerSystem},
			guard:    func(*Machine, *State) bool { return true },
			effect:   (*Machine).resetRound,
		},
		{Lobby, InGame}: {
			triggers: []Trigger{TriggerReady, TriggerHost},
			guard:    (*Machine).canStart,
			effect:   (*Machine).startGame,
		},
		{InGame, RoundEnd}: {
			triggers: []Trigger{TriggerRules, TriggerHost},
			guard:    func(*Machine, *State) bool { return true },
			effect: func(_ *Machine, s *State) {
				s.CurrentPlayerTurn = NoTurn
				s.Suspended = false
			},
		},
		{RoundEnd, InGame}: {
			triggers: []Trigger{TriggerHost, TriggerTimer},
			guard:    func(m *Machine, s *State) bool { return !m.finished(s) },
			effect:   (*Machine).nextRound,
		},
		{RoundEnd, GameOver}: {
			triggers: []Trigger{TriggerHost, TriggerTimer, TriggerRules},
			guard:    (*Machine).finished,
			effect: func(_ *Machine, s *State) {
				s.GameInProgress = false
				s.CurrentPlayerTurn = NoTurn
			},
		},
		{GameOver, Lobby}: {
			triggers: []Trigger{TriggerHost},
			guard:    func(*Machine, *State) bool { return true },
			effect:   (*Machine).resetRound,
		},
		// 对局中除房主外全部掉线时，房主可以直接回到大厅
		{InGame, Lobby}: {
			triggers: []Trigger{TriggerHost},
			guard:    (*Machine).onlyHostConnected,
			effect:   (*Machine).resetRound,
		},
		{RoundEnd, Lobby}: {
			triggers: []Trigger{TriggerHost},
			guard:    (*Machine).onlyHostConnected,
			effect:   (*Machine).resetRound,
		},
	}
	return m
}

// CanTransition 只检查守卫，不修改状态
func (m *Machine) CanTransition(s *State, to GamePhase, trigger Trigger) error {
	t, ok := m.table[edge{s.Phase, to}]
	if !ok || !allows(t.triggers, trigger) || !t.guard(m, s) {
		return apperrors.ErrInvalidPhase
	}
	return nil
}

// Transition 检查守卫并执行切换；守卫失败时状态保持不变
func (m *Machine) Transition(s *State, to GamePhase, trigger Trigger) error {
	if err := m.CanTransition(s, to, trigger); err != nil {
		return err
	}
	t := m.table[edge{s.Phase, to}]
	s.Phase = to
	t.effect(m, s)
	return nil
}

// CompleteRound 处理规则服务的回合结束信号
func (m *Machine) CompleteRound(s *State, terminal bool) error {
	if err := m.CanTransition(s, RoundEnd, TriggerRules); err != nil {
		return err
	}
	s.Terminal = s.Terminal || terminal
	return m.Transition(s, RoundEnd, TriggerRules)
}

// AfterRoundEnd 返回回合结束后应进入的阶段
func (m *Machine) AfterRoundEnd(s *State) GamePhase {
	if m.finished(s) {
		return GameOver
	}
	return InGame
}

// AdvanceTurn 按加入顺序把出手权交给下一个在线玩家。
// 所有人掉线时不推进，只标记暂停。
func (m *Machine) AdvanceTurn(s *State) error {
	if s.Phase != InGame {
		return apperrors.ErrInvalidPhase
	}
	next := s.Roster.NextConnected(s.CurrentPlayerTurn + 1)
	if next == NoTurn {
		s.Suspended = true
		return nil
	}
	s.CurrentPlayerTurn = next
	s.Suspended = false
	return nil
}

// RefreshSuspended 在连接状态变化后更新暂停标记
func (m *Machine) RefreshSuspended(s *State) {
	if s.Phase != InGame {
		s.Suspended = false
		return
	}
	s.Suspended = s.Roster.ConnectedCount() == 0
	if !s.Suspended && s.CurrentPlayerTurn == NoTurn {
		s.CurrentPlayerTurn = s.Roster.NextConnected(0)
	}
}

// PlayerRemoved 在名单删除 removedIdx 之后修正出手指针
func (m *Machine) PlayerRemoved(s *State, removedIdx int) {
	if s.CurrentPlayerTurn == NoTurn {
		return
	}
	switch {
	case s.Roster.Len() == 0:
		s.CurrentPlayerTurn = NoTurn
	case s.CurrentPlayerTurn > removedIdx:
		s.CurrentPlayerTurn--
	case s.CurrentPlayerTurn == removedIdx:
		// 原位置现在是下一位玩家
		s.CurrentPlayerTurn = s.Roster.NextConnected(removedIdx)
	}
	m.RefreshSuspended(s)
}

func (m *Machine) canStart(s *State) bool {
	return s.Roster.AllReady() && s.Roster.ConnectedCount() >= m.minPlayers
}

func (m *Machine) finished(s *State) bool {
	return s.Terminal || (m.maxRounds > 0 && s.RoundNumber >= m.maxRounds)
}

func (m *Machine) onlyHostConnected(s *State) bool {
	for _, rec := range s.Roster.Records() {
		if !rec.IsHost && rec.IsConnected {
			return false
		}
	}
	return true
}

func (m *Machine) startGame(s *State) {
	s.GameInProgress = true
	s.RoundNumber = 1
	s.Terminal = false
	s.CurrentPlayerTurn = s.Roster.NextConnected(0)
	s.Suspended = s.CurrentPlayerTurn == NoTurn
}

func (m *Machine) nextRound(s *State) {
	s.RoundNumber++
	// 每回合由下一位玩家先手
	s.CurrentPlayerTurn = s.Roster.NextConnected(s.RoundNumber - 1)
	s.Suspended = s.CurrentPlayerTurn == NoTurn
}

func (m *Machine) resetRound(s *State) {
	s.Roster.ClearReady()
	s.RoundNumber = 0
	s.CurrentPlayerTurn = NoTurn
	s.GameInProgress = false
	s.Suspended = false
	s.Terminal = false
}

func allows(triggers []Trigger, t Trigger) bool {
	for _, allowed := range triggers {
		if allowed == t {
			return true
		}
	}
	return false
}
