// Package events 通过 NATS 与规则服务、展示层交换房间事件。
//
// 主题格式为 <prefix>.<room>.<event>：
//
//	<prefix>.<room>.snapshot        房间快照（发布）
//	<prefix>.<room>.round_complete  回合结束（订阅）
//	<prefix>.<room>.turn_advance    轮到下一位（订阅）
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/game/room"
	"github.com/palemoky/party-session/internal/protocol"
)

const (
	EventSnapshot      = "snapshot"
	EventRoundComplete = "round_complete"
	EventTurnAdvance   = "turn_advance"
)

// Bus 消息总线的最小接口
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (unsubscribe func() error, err error)
}

// natsBus 基于 nats.Conn 的 Bus 实现
type natsBus struct {
	conn *nats.Conn
}

// Connect 连接 NATS，断线后无限重连
func Connect(url string) (Bus, func(), error) {
	conn, err := nats.Connect(
		url,
		nats.Name("party-session"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS 连接断开")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS 已重连")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	closeFn := func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	return &natsBus{conn: conn}, closeFn, nil
}

func (b *natsBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *natsBus) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Publisher 发布房间快照
type Publisher struct {
	bus    Bus
	prefix string
}

// NewPublisher 创建快照发布器
func NewPublisher(bus Bus, prefix string) *Publisher {
	return &Publisher{bus: bus, prefix: prefix}
}

// Subject 拼接事件主题
func Subject(prefix, code, event string) string {
	return prefix + "." + code + "." + event
}

// PublishSnapshot 发布房间快照
func (p *Publisher) PublishSnapshot(_ context.Context, snap protocol.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.bus.Publish(Subject(p.prefix, snap.RoomCode, EventSnapshot), data)
}

// RoundCompletePayload 回合结束通知
type RoundCompletePayload struct {
	Terminal bool `json:"terminal"`
}

// Rules 规则服务回调的房间入口
type Rules interface {
	CompleteRound(code string, terminal bool) (room.Snapshot, error)
	AdvanceTurn(code string) (room.Snapshot, error)
}

// Subscriber 接收规则服务事件并转交房间管理器
type Subscriber struct {
	bus    Bus
	prefix string
	rules  Rules
	unsubs []func() error
}

// NewSubscriber 创建规则事件订阅器
func NewSubscriber(bus Bus, prefix string, rules Rules) *Subscriber {
	return &Subscriber{bus: bus, prefix: prefix, rules: rules}
}

// Start 订阅回合结束与轮转主题
func (s *Subscriber) Start() error {
	for _, event := range []string{EventRoundComplete, EventTurnAdvance} {
		unsub, err := s.bus.Subscribe(Subject(s.prefix, "*", event), s.handle)
		if err != nil {
			_ = s.Stop()
			return fmt.Errorf("订阅 %s 失败: %w", event, err)
		}
		s.unsubs = append(s.unsubs, unsub)
	}
	return nil
}

// Stop 取消所有订阅
func (s *Subscriber) Stop() error {
	var firstErr error
	for _, unsub := range s.unsubs {
		if err := unsub(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.unsubs = nil
	return firstErr
}

func (s *Subscriber) handle(subject string, data []byte) {
	code, event, ok := s.parse(subject)
	if !ok {
		log.Warn().Str("subject", subject).Msg("无法识别的事件主题")
		return
	}

	var err error
	switch event {
	case EventRoundComplete:
		var payload RoundCompletePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				log.Warn().Err(err).Str("room", code).Msg("回合结束消息格式错误")
				return
			}
		}
		_, err = s.rules.CompleteRound(code, payload.Terminal)
	case EventTurnAdvance:
		_, err = s.rules.AdvanceTurn(code)
	default:
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("room", code).Str("event", event).Msg("规则事件被拒绝")
	}
}

// parse 从主题中取出房间号和事件名
func (s *Subscriber) parse(subject string) (code, event string, ok bool) {
	rest, found := strings.CutPrefix(subject, s.prefix+".")
	if !found {
		return "", "", false
	}
	code, event, found = strings.Cut(rest, ".")
	if !found || code == "" || strings.Contains(event, ".") {
		return "", "", false
	}
	return code, event, true
}
