// Package phase 定义房间阶段以及阶段之间的合法切换
package phase

import "fmt"

// GamePhase 房间阶段
type GamePhase int

const (
	MainMenu GamePhase = iota // 尚未进入房间
	Lobby                     // 等待准备
	InGame                    // 对局中
	RoundEnd                  // 回合结算
	GameOver                  // 整局结束
)

var phaseNames = [...]string{
	MainMenu: "main_menu",
	Lobby:    "lobby",
	InGame:   "in_game",
	RoundEnd: "round_end",
	GameOver: "game_over",
}

func (p GamePhase) String() string {
	if p < MainMenu || p > GameOver {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Parse 解析协议中的阶段名
func Parse(s string) (GamePhase, error) {
	for i, name := range phaseNames {
		if name == s {
			return GamePhase(i), nil
		}
	}
	return MainMenu, fmt.Errorf("unknown phase %q", s)
}

func (p GamePhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *GamePhase) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Trigger 阶段切换的来源
type Trigger int

const (
	TriggerSystem Trigger = iota // 创建 / 加入房间
	TriggerReady                 // 全员准备后自动开始
	TriggerHost                  // 房主请求
	TriggerRules                 // 规则服务回合结束信号
	TriggerTimer                 // 回合结束自动推进
)

func (t Trigger) String() string {
	switch t {
	case TriggerSystem:
		return "system"
	case TriggerReady:
		return "ready"
	case TriggerHost:
		return "host"
	case TriggerRules:
		return "rules"
	case TriggerTimer:
		return "timer"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}
