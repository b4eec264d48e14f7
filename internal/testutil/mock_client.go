//go:build !production

package testutil

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
)

// MockClient 实现 types.ClientInterface 的 mock
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) GetName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) GetRoom() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) SetRoom(roomCode string) {
	m.Called(roomCode)
}

func (m *MockClient) GetPlayerID() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockClient) SetPlayerID(id int) {
	m.Called(id)
}

func (m *MockClient) SendMessage(msg *protocol.Message) {
	m.Called(msg)
}

func (m *MockClient) Close() {
	m.Called()
}

// SimpleClient 并发安全的简单客户端，记录收到的消息（用于不需要 mock 断言的测试）
type SimpleClient struct {
	ID   string
	Name string

	mu       sync.Mutex
	roomCode string
	playerID int
	closed   bool
	messages []*protocol.Message
	notify   chan struct{}
}

// NewSimpleClient 创建简单客户端
func NewSimpleClient(id, name string) *SimpleClient {
	return &SimpleClient{ID: id, Name: name, notify: make(chan struct{}, 1)}
}

func (c *SimpleClient) GetID() string   { return c.ID }
func (c *SimpleClient) GetName() string { return c.Name }

func (c *SimpleClient) GetRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

func (c *SimpleClient) SetRoom(code string) {
	c.mu.Lock()
	c.roomCode = code
	c.mu.Unlock()
}

func (c *SimpleClient) GetPlayerID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *SimpleClient) SetPlayerID(id int) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

func (c *SimpleClient) SendMessage(msg *protocol.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *SimpleClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed 是否已被关闭
func (c *SimpleClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages 返回已收到消息的副本
func (c *SimpleClient) Messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Message(nil), c.messages...)
}

// MessagesOfType 返回指定类型的消息
func (c *SimpleClient) MessagesOfType(t protocol.MessageType) []*protocol.Message {
	var out []*protocol.Message
	for _, m := range c.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// LastSnapshot 返回最近一次 room_state 快照
func (c *SimpleClient) LastSnapshot() (protocol.RoomSnapshot, bool) {
	states := c.MessagesOfType(protocol.MsgRoomState)
	if len(states) == 0 {
		return protocol.RoomSnapshot{}, false
	}
	p, err := codec.ParsePayload[protocol.RoomStatePayload](states[len(states)-1])
	if err != nil {
		return protocol.RoomSnapshot{}, false
	}
	return p.Snapshot, true
}

// WaitFor 等待直到满足条件的消息出现
func (c *SimpleClient) WaitFor(match func(*protocol.Message) bool, timeout time.Duration) (*protocol.Message, bool) {
	deadline := time.After(timeout)
	for {
		for _, m := range c.Messages() {
			if match(m) {
				return m, true
			}
		}
		select {
		case <-c.notify:
		case <-deadline:
			return nil, false
		}
	}
}

// WaitForSnapshot 等待满足条件的快照
func (c *SimpleClient) WaitForSnapshot(match func(protocol.RoomSnapshot) bool, timeout time.Duration) (protocol.RoomSnapshot, bool) {
	var found protocol.RoomSnapshot
	_, ok := c.WaitFor(func(m *protocol.Message) bool {
		if m.Type != protocol.MsgRoomState {
			return false
		}
		p, err := codec.ParsePayload[protocol.RoomStatePayload](m)
		if err != nil || !match(p.Snapshot) {
			return false
		}
		found = p.Snapshot
		return true
	}, timeout)
	return found, ok
}
