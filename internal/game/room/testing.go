//go:build !production

package room

import (
	"github.com/stretchr/testify/mock"

	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/types"
)

// MockRoomManager 房间管理器 mock
type MockRoomManager struct {
	mock.Mock
}

func (m *MockRoomManager) CreateRoom(client types.ClientInterface, name string) (JoinResult, error) {
	args := m.Called(client, name)
	return args.Get(0).(JoinResult), args.Error(1)
}

func (m *MockRoomManager) JoinRoom(code string, client types.ClientInterface, name string) (JoinResult, error) {
	args := m.Called(code, client, name)
	return args.Get(0).(JoinResult), args.Error(1)
}

func (m *MockRoomManager) LeaveRoom(code string, playerID int) error {
	args := m.Called(code, playerID)
	return args.Error(0)
}

func (m *MockRoomManager) SetReady(code string, playerID int, ready bool) (Snapshot, error) {
	args := m.Called(code, playerID, ready)
	return args.Get(0).(Snapshot), args.Error(1)
}

func (m *MockRoomManager) AdvancePhase(code string, playerID int, target phase.GamePhase) (Snapshot, error) {
	args := m.Called(code, playerID, target)
	return args.Get(0).(Snapshot), args.Error(1)
}

func (m *MockRoomManager) Reconnect(code, instance string, playerID int, client types.ClientInterface) (Snapshot, error) {
	args := m.Called(code, instance, playerID, client)
	return args.Get(0).(Snapshot), args.Error(1)
}

func (m *MockRoomManager) Disconnect(code string, playerID int, connID string) {
	m.Called(code, playerID, connID)
}
