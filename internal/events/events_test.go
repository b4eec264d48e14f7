package events

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/room"
	"github.com/palemoky/party-session/internal/protocol"
)

// fakeBus 内存总线，主题匹配规则与 NATS 的单段通配符 * 一致
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]func(string, []byte)
	subErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		handlers:  make(map[string]func(string, []byte)),
	}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	b.published[subject] = append(b.published[subject], data)
	var matched []func(string, []byte)
	for pattern, h := range b.handlers {
		if ok, _ := path.Match(toGlob(pattern), subject); ok {
			matched = append(matched, h)
		}
	}
	b.mu.Unlock()

	for _, h := range matched {
		h(subject, data)
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	b.handlers[subject] = handler
	return func() error {
		b.mu.Lock()
		delete(b.handlers, subject)
		b.mu.Unlock()
		return nil
	}, nil
}

func (b *fakeBus) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// toGlob 把 NATS 主题中的 . 换成 /，使 path.Match 的 * 不跨段
func toGlob(subject string) string {
	out := []byte(subject)
	for i, c := range out {
		if c == '.' {
			out[i] = '/'
		}
	}
	return string(out)
}

type mockRules struct {
	mock.Mock
}

func (m *mockRules) CompleteRound(code string, terminal bool) (room.Snapshot, error) {
	args := m.Called(code, terminal)
	return room.Snapshot{}, args.Error(0)
}

func (m *mockRules) AdvanceTurn(code string) (room.Snapshot, error) {
	args := m.Called(code)
	return room.Snapshot{}, args.Error(0)
}

func TestPublisher_PublishSnapshot(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	pub := NewPublisher(bus, "party.rooms")

	snap := protocol.RoomSnapshot{RoomCode: "042917", Phase: "lobby", Version: 7, CurrentPlayerTurn: -1}
	require.NoError(t, pub.PublishSnapshot(context.Background(), snap))

	msgs := bus.published["party.rooms.042917.snapshot"]
	require.Len(t, msgs, 1)

	var got protocol.RoomSnapshot
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, snap, got)
}

func TestSubscriber_RoutesRuleEvents(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	rules := &mockRules{}
	rules.On("CompleteRound", "042917", true).Return(nil).Once()
	rules.On("CompleteRound", "042917", false).Return(nil).Once()
	rules.On("AdvanceTurn", "111111").Return(apperrors.ErrInvalidPhase).Once()

	sub := NewSubscriber(bus, "party.rooms", rules)
	require.NoError(t, sub.Start())
	assert.Equal(t, 2, bus.subscriptions())

	require.NoError(t, bus.Publish("party.rooms.042917.round_complete", []byte(`{"terminal":true}`)))
	require.NoError(t, bus.Publish("party.rooms.042917.round_complete", nil))
	require.NoError(t, bus.Publish("party.rooms.111111.turn_advance", nil))

	rules.AssertExpectations(t)

	require.NoError(t, sub.Stop())
	assert.Equal(t, 0, bus.subscriptions())
}

func TestSubscriber_IgnoresMalformed(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	rules := &mockRules{}
	sub := NewSubscriber(bus, "party.rooms", rules)
	require.NoError(t, sub.Start())

	// 消息体格式错误
	require.NoError(t, bus.Publish("party.rooms.042917.round_complete", []byte(`{not json`)))
	// 直接调用处理函数覆盖无法匹配的主题
	sub.handle("other.042917.round_complete", nil)
	sub.handle("party.rooms.042917", nil)
	sub.handle("party.rooms.042917.snapshot", nil)
	sub.handle("party.rooms.042917.turn_advance.extra", nil)

	rules.AssertNotCalled(t, "CompleteRound", mock.Anything, mock.Anything)
	rules.AssertNotCalled(t, "AdvanceTurn", mock.Anything)
}

func TestSubscriber_StartFailure(t *testing.T) {
	t.Parallel()

	bus := newFakeBus()
	bus.subErr = errors.New("connection closed")

	sub := NewSubscriber(bus, "party.rooms", &mockRules{})
	assert.Error(t, sub.Start())
	assert.Equal(t, 0, bus.subscriptions())
}

func TestSubject(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "party.rooms.042917.snapshot", Subject("party.rooms", "042917", EventSnapshot))
}
