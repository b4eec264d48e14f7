//go:build !production

package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/server/storage"
)

// MockRedisStore 房间存储 mock
type MockRedisStore struct {
	mock.Mock
}

func (m *MockRedisStore) ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, code, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisStore) ReleaseCode(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockRedisStore) RefreshCode(ctx context.Context, code string, ttl time.Duration) error {
	args := m.Called(ctx, code, ttl)
	return args.Error(0)
}

func (m *MockRedisStore) SaveRoom(ctx context.Context, data *storage.RoomData) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func (m *MockRedisStore) DeleteRoom(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

// MockArchive 对局归档 mock
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) RecordMatch(ctx context.Context, rec *storage.MatchRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockTokenIssuer 重连令牌签发 mock
type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) Issue(code, instance string, playerID int) (string, error) {
	args := m.Called(code, instance, playerID)
	return args.String(0), args.Error(1)
}

// RecordingPublisher 记录发布的快照
type RecordingPublisher struct {
	mu        sync.Mutex
	snapshots []protocol.RoomSnapshot
}

func (p *RecordingPublisher) PublishSnapshot(_ context.Context, snap protocol.RoomSnapshot) error {
	p.mu.Lock()
	p.snapshots = append(p.snapshots, snap)
	p.mu.Unlock()
	return nil
}

// Snapshots 返回已发布快照的副本
func (p *RecordingPublisher) Snapshots() []protocol.RoomSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.RoomSnapshot(nil), p.snapshots...)
}

// MemoryStore 并发安全的内存房间存储，记录每个房间保存过的版本
type MemoryStore struct {
	mu       sync.Mutex
	codes    map[string]bool
	rooms    map[string]*storage.RoomData
	versions map[string][]uint64
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:    make(map[string]bool),
		rooms:    make(map[string]*storage.RoomData),
		versions: make(map[string][]uint64),
	}
}

func (s *MemoryStore) ReserveCode(_ context.Context, code string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes[code] {
		return false, nil
	}
	s.codes[code] = true
	return true, nil
}

func (s *MemoryStore) ReleaseCode(_ context.Context, code string) error {
	s.mu.Lock()
	delete(s.codes, code)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RefreshCode(_ context.Context, code string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.codes[code] {
		return errors.New("room code not reserved")
	}
	return nil
}

func (s *MemoryStore) SaveRoom(_ context.Context, data *storage.RoomData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rooms[data.Code]; ok && cur.Version >= data.Version {
		return storage.ErrStaleVersion
	}
	s.rooms[data.Code] = data
	s.versions[data.Code] = append(s.versions[data.Code], data.Version)
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, code string) error {
	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()
	return nil
}

// Room 返回房间的最新快照
func (s *MemoryStore) Room(code string) (*storage.RoomData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.rooms[code]
	return data, ok
}

// Versions 返回房间依次保存的版本号
func (s *MemoryStore) Versions(code string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.versions[code]...)
}

// Reserved 房间号是否仍被占用
func (s *MemoryStore) Reserved(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[code]
}
