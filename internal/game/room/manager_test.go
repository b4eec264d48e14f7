package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/game/roomcode"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/server/storage"
	"github.com/palemoky/party-session/internal/testutil"
)

const waitTimeout = 2 * time.Second

func testOptions() Options {
	return Options{
		MaxPlayers:      4,
		MinPlayers:      2,
		MaxRounds:       2,
		GracePeriod:     time.Minute,
		RoomTimeout:     30 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

func newTestManager(t *testing.T, opts Options, deps Deps) *RoomManager {
	t.Helper()
	rm := NewRoomManager(opts, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = rm.Shutdown(ctx, "test done")
	})
	return rm
}

// setupRoom 创建房间并让 n-1 名玩家加入
func setupRoom(t *testing.T, rm *RoomManager, n int) (string, []*testutil.SimpleClient) {
	t.Helper()
	host := testutil.NewSimpleClient("c1", "Alice")
	res, err := rm.CreateRoom(host, "Alice")
	require.NoError(t, err)

	clients := []*testutil.SimpleClient{host}
	for i := 2; i <= n; i++ {
		c := testutil.NewSimpleClient(fmt.Sprintf("c%d", i), fmt.Sprintf("P%d", i))
		_, err := rm.JoinRoom(res.Code, c, c.Name)
		require.NoError(t, err)
		clients = append(clients, c)
	}
	return res.Code, clients
}

// startGame 所有玩家准备，房间进入 InGame
func startGame(t *testing.T, rm *RoomManager, code string, n int) Snapshot {
	t.Helper()
	var snap Snapshot
	var err error
	for id := 1; id <= n; id++ {
		snap, err = rm.SetReady(code, id, true)
		require.NoError(t, err)
	}
	require.Equal(t, phase.InGame, snap.Phase)
	return snap
}

// instanceOf 房间实例标识，创建后不再变化
func instanceOf(t *testing.T, rm *RoomManager, code string) string {
	t.Helper()
	r, err := rm.lookup(code)
	require.NoError(t, err)
	return r.instance
}

func player(snap Snapshot, id int) protocol.PlayerView {
	for _, p := range snap.Players {
		if p.PlayerID == id {
			return p
		}
	}
	return protocol.PlayerView{}
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	host := testutil.NewSimpleClient("c1", "Alice")

	res, err := rm.CreateRoom(host, "Alice")
	require.NoError(t, err)

	assert.True(t, roomcode.IsValid(res.Code))
	assert.Equal(t, 1, res.PlayerID)
	assert.Equal(t, phase.Lobby, res.Snapshot.Phase)
	assert.Equal(t, uint64(1), res.Snapshot.Version)
	assert.Equal(t, phase.NoTurn, res.Snapshot.CurrentPlayerTurn)
	require.Len(t, res.Snapshot.Players, 1)
	assert.True(t, res.Snapshot.Players[0].IsHost)
	assert.True(t, res.Snapshot.Players[0].IsConnected)

	assert.Equal(t, res.Code, host.GetRoom())
	assert.Equal(t, 1, host.GetPlayerID())
	assert.Equal(t, 1, rm.RoomCount())

	// room_joined 先于 room_state
	msgs := host.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.MsgRoomJoined, msgs[0].Type)
	assert.Equal(t, protocol.MsgRoomState, msgs[1].Type)

	joined, err := codec.ParsePayload[protocol.RoomJoinedPayload](msgs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, joined.PlayerID)
	assert.Equal(t, res.Code, joined.Snapshot.RoomCode)
	assert.Equal(t, "lobby", joined.Snapshot.Phase)
}

func TestCreateRoom_UniqueCodes(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	seen := make(map[string]bool)
	for i := range 50 {
		res, err := rm.CreateRoom(testutil.NewSimpleClient(fmt.Sprintf("c%d", i), "p"), "p")
		require.NoError(t, err)
		assert.False(t, seen[res.Code], "duplicate code %s", res.Code)
		seen[res.Code] = true
	}
	assert.Equal(t, 50, rm.RoomCount())
}

func TestCreateRoom_StoreReservation(t *testing.T) {
	t.Parallel()

	t.Run("reserved in store", func(t *testing.T) {
		t.Parallel()
		store := testutil.NewMemoryStore()
		rm := newTestManager(t, testOptions(), Deps{Store: store})

		res, err := rm.CreateRoom(testutil.NewSimpleClient("c1", "Alice"), "Alice")
		require.NoError(t, err)
		assert.True(t, store.Reserved(res.Code))
	})

	t.Run("store error degrades to local uniqueness", func(t *testing.T) {
		t.Parallel()
		store := &testutil.MockRedisStore{}
		store.On("ReserveCode", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
		store.On("SaveRoom", mock.Anything, mock.Anything).Return(errors.New("redis down")).Maybe()
		store.On("DeleteRoom", mock.Anything, mock.Anything).Return(nil).Maybe()
		store.On("ReleaseCode", mock.Anything, mock.Anything).Return(nil).Maybe()
		store.On("RefreshCode", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
		rm := newTestManager(t, testOptions(), Deps{Store: store})

		res, err := rm.CreateRoom(testutil.NewSimpleClient("c1", "Alice"), "Alice")
		require.NoError(t, err)
		assert.True(t, roomcode.IsValid(res.Code))
	})
}

// gatedStore armed 之后 ReserveCode 阻塞到 release 关闭
type gatedStore struct {
	*testutil.MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	if s.armed.Load() {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	return s.MemoryStore.ReserveCode(ctx, code, ttl)
}

func TestCreateRoom_SlowStoreDoesNotBlockOtherRooms(t *testing.T) {
	t.Parallel()

	store := &gatedStore{
		MemoryStore: testutil.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	unblock := sync.OnceFunc(func() { close(store.release) })
	defer unblock()

	rm := newTestManager(t, testOptions(), Deps{Store: store})
	code, _ := setupRoom(t, rm, 2)

	store.armed.Store(true)
	created := make(chan error, 1)
	go func() {
		_, err := rm.CreateRoom(testutil.NewSimpleClient("c9", "Zed"), "Zed")
		created <- err
	}()
	select {
	case <-store.entered:
	case <-time.After(waitTimeout):
		t.Fatal("CreateRoom never reached the store")
	}

	// 房间号占用尚未返回时，其他房间照常处理意图
	done := make(chan error, 1)
	go func() {
		_, err := rm.SetReady(code, 1, true)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unrelated room blocked while a code reservation was pending")
	}
	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.True(t, player(snap, 1).IsReady)

	unblock()
	select {
	case err := <-created:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("CreateRoom did not finish after the store answered")
	}
	assert.Equal(t, 2, rm.RoomCount())
}

// hookStore 在 ReserveCode 返回前执行 onReserve
type hookStore struct {
	*testutil.MemoryStore
	onReserve func(code string)
}

func (s *hookStore) ReserveCode(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	ok, err := s.MemoryStore.ReserveCode(ctx, code, ttl)
	if s.onReserve != nil {
		s.onReserve(code)
	}
	return ok, err
}

func TestClaim_ReleasesStoreOnLocalCollision(t *testing.T) {
	t.Parallel()

	store := &hookStore{MemoryStore: testutil.NewMemoryStore()}
	rm := newTestManager(t, testOptions(), Deps{Store: store})
	res, err := rm.CreateRoom(testutil.NewSimpleClient("c1", "Alice"), "Alice")
	require.NoError(t, err)

	// 本地已有房间时直接跳过
	assert.Nil(t, rm.claim(res.Code))
	assert.True(t, store.Reserved(res.Code))

	// 存储占用期间另一次创建抢先登记了同一个房间号
	rival := &Room{}
	store.onReserve = func(code string) {
		rm.mu.Lock()
		rm.rooms[code] = rival
		rm.mu.Unlock()
	}
	const code = "123456"
	assert.Nil(t, rm.claim(code))
	assert.False(t, store.Reserved(code))

	rm.mu.Lock()
	assert.Same(t, rival, rm.rooms[code])
	delete(rm.rooms, code)
	rm.mu.Unlock()
}

func TestJoinRoom(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 1)

	bob := testutil.NewSimpleClient("c2", "Bob")
	res, err := rm.JoinRoom(code, bob, "Bob")
	require.NoError(t, err)

	assert.Equal(t, 2, res.PlayerID)
	assert.Equal(t, uint64(2), res.Snapshot.Version)
	require.Len(t, res.Snapshot.Players, 2)
	assert.False(t, player(res.Snapshot, 2).IsHost)

	// 已在房间的玩家收到新快照
	snap, ok := clients[0].WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return len(s.Roster) == 2 }, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Version)
}

func TestJoinRoom_Errors(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxPlayers = 2
	rm := newTestManager(t, opts, Deps{})

	lobbyCode, lobbyClients := setupRoom(t, rm, 1)

	fullCode, _ := setupRoom(t, rm, 2)

	playingCode, _ := setupRoom(t, rm, 2)
	startGame(t, rm, playingCode, 2)
	// 对局中离开仍保留座位，房间依旧满员
	require.NoError(t, rm.LeaveRoom(playingCode, 2))

	unknown := "000000"
	for unknown == lobbyCode || unknown == fullCode || unknown == playingCode {
		unknown = roomcode.Generate()
	}

	tests := []struct {
		name    string
		code    string
		client  *testutil.SimpleClient
		wantErr error
	}{
		{"malformed code", "12ab56", testutil.NewSimpleClient("x1", "X"), apperrors.ErrInvalidRoomCode},
		{"too short", "12345", testutil.NewSimpleClient("x2", "X"), apperrors.ErrInvalidRoomCode},
		{"unknown room", unknown, testutil.NewSimpleClient("x3", "X"), apperrors.ErrRoomNotFound},
		{"full", fullCode, testutil.NewSimpleClient("x4", "X"), apperrors.ErrRoomFull},
		{"in game", playingCode, testutil.NewSimpleClient("x5", "X"), apperrors.ErrRoomFull},
		{"same connection", lobbyCode, lobbyClients[0], apperrors.ErrDuplicatePlayer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rm.JoinRoom(tt.code, tt.client, tt.client.Name)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestJoinRoom_InGameRejected(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, _ := setupRoom(t, rm, 2)
	before := startGame(t, rm, code, 2)

	_, err := rm.JoinRoom(code, testutil.NewSimpleClient("late", "Late"), "Late")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	after, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetReady_StartsGameWhenAllReady(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)

	snap, err := rm.SetReady(code, 1, true)
	require.NoError(t, err)
	assert.Equal(t, phase.Lobby, snap.Phase)
	assert.True(t, player(snap, 1).IsReady)

	// 取消准备不会开始对局
	snap, err = rm.SetReady(code, 1, false)
	require.NoError(t, err)
	assert.False(t, player(snap, 1).IsReady)

	_, err = rm.SetReady(code, 1, true)
	require.NoError(t, err)
	snap, err = rm.SetReady(code, 2, true)
	require.NoError(t, err)

	assert.Equal(t, phase.InGame, snap.Phase)
	assert.True(t, snap.GameInProgress)
	assert.Equal(t, 1, snap.RoundNumber)
	assert.Equal(t, 0, snap.CurrentPlayerTurn)

	for _, c := range clients {
		_, ok := c.WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return s.Phase == "in_game" }, waitTimeout)
		assert.True(t, ok, c.Name)
	}

	_, err = rm.SetReady(code, 1, false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	_, err = rm.SetReady(code, 99, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)
}

func TestSetReady_SinglePlayerNeverStarts(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, _ := setupRoom(t, rm, 1)

	snap, err := rm.SetReady(code, 1, true)
	require.NoError(t, err)
	assert.Equal(t, phase.Lobby, snap.Phase)
	assert.False(t, snap.GameInProgress)

	_, err = rm.AdvancePhase(code, 1, phase.InGame)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)
}

func TestSetReady_Concurrent(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 4)

	var wg sync.WaitGroup
	for id := 1; id <= 4; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := rm.SetReady(code, id, true)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, phase.InGame, snap.Phase)
	assert.Equal(t, 1, snap.RoundNumber)

	// 每个客户端看到的版本号严格递增，且只有一次进入对局
	for _, c := range clients {
		var last uint64
		prevPhase := ""
		starts := 0
		for _, m := range c.MessagesOfType(protocol.MsgRoomState) {
			p, err := codec.ParsePayload[protocol.RoomStatePayload](m)
			require.NoError(t, err)
			assert.Greater(t, p.Snapshot.Version, last)
			if p.Snapshot.Phase == "in_game" && prevPhase != "in_game" {
				starts++
			}
			last = p.Snapshot.Version
			prevPhase = p.Snapshot.Phase
		}
		assert.Equal(t, 1, starts, c.Name)
	}
}

func TestFullGameLoop(t *testing.T) {
	t.Parallel()

	archived := make(chan struct{})
	archive := &testutil.MockArchive{}
	archive.On("RecordMatch", mock.Anything, mock.MatchedBy(func(rec *storage.MatchRecord) bool {
		return rec.Rounds == 2 && len(rec.Players) == 2
	})).Return(nil).Once().Run(func(mock.Arguments) { close(archived) })

	rm := newTestManager(t, testOptions(), Deps{Archive: archive})
	code, _ := setupRoom(t, rm, 2)
	snap := startGame(t, rm, code, 2)
	assert.Equal(t, 0, snap.CurrentPlayerTurn)

	snap, err := rm.AdvanceTurn(code)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentPlayerTurn)

	snap, err = rm.AdvanceTurn(code)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.CurrentPlayerTurn)

	snap, err = rm.CompleteRound(code, false)
	require.NoError(t, err)
	assert.Equal(t, phase.RoundEnd, snap.Phase)
	assert.Equal(t, phase.NoTurn, snap.CurrentPlayerTurn)

	_, err = rm.AdvanceTurn(code)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	// 只有房主能推进
	_, err = rm.AdvancePhase(code, 2, phase.InGame)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	snap, err = rm.AdvancePhase(code, 1, phase.InGame)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RoundNumber)
	assert.Equal(t, 1, snap.CurrentPlayerTurn)

	snap, err = rm.CompleteRound(code, false)
	require.NoError(t, err)
	assert.Equal(t, phase.RoundEnd, snap.Phase)

	// 已达最大回合数
	_, err = rm.AdvancePhase(code, 1, phase.InGame)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	snap, err = rm.AdvancePhase(code, 1, phase.GameOver)
	require.NoError(t, err)
	assert.Equal(t, phase.GameOver, snap.Phase)
	assert.False(t, snap.GameInProgress)

	snap, err = rm.AdvancePhase(code, 1, phase.Lobby)
	require.NoError(t, err)
	assert.Equal(t, phase.Lobby, snap.Phase)
	assert.Equal(t, 0, snap.RoundNumber)
	for _, p := range snap.Players {
		assert.False(t, p.IsReady)
	}

	select {
	case <-archived:
	case <-time.After(waitTimeout):
		t.Fatal("match was not archived")
	}
	archive.AssertExpectations(t)
}

func TestAdvancePhase_RejectedLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, _ := setupRoom(t, rm, 2)
	before, err := rm.Snapshot(code)
	require.NoError(t, err)

	for _, target := range []phase.GamePhase{phase.MainMenu, phase.RoundEnd, phase.GameOver, phase.Lobby} {
		_, err := rm.AdvancePhase(code, 1, target)
		assert.ErrorIs(t, err, apperrors.ErrInvalidPhase, target.String())
	}
	_, err = rm.AdvancePhase(code, 42, phase.InGame)
	assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)

	after, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRuleCallbacks_UnknownRoom(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})

	_, err := rm.CompleteRound("000000", false)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	_, err = rm.AdvanceTurn("bad")
	assert.ErrorIs(t, err, apperrors.ErrInvalidRoomCode)
}

func TestCompleteRound_TerminalEndsGame(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxRounds = 0
	rm := newTestManager(t, opts, Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	snap, err := rm.CompleteRound(code, true)
	require.NoError(t, err)
	assert.Equal(t, phase.GameOver, snap.Phase)
	assert.False(t, snap.GameInProgress)

	// 玩家依次看到 RoundEnd 和 GameOver
	_, ok := clients[1].WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return s.Phase == "round_end" }, waitTimeout)
	assert.True(t, ok)
	_, ok = clients[1].WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return s.Phase == "game_over" }, waitTimeout)
	assert.True(t, ok)

	_, err = rm.CompleteRound(code, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)
}

func TestCompleteRound_TerminalWaitsForTimer(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxRounds = 0
	opts.RoundEndDelay = time.Hour
	rm := newTestManager(t, opts, Deps{})
	code, _ := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	snap, err := rm.CompleteRound(code, true)
	require.NoError(t, err)
	assert.Equal(t, phase.RoundEnd, snap.Phase)

	_, err = rm.AdvancePhase(code, 1, phase.InGame)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	snap, err = rm.AdvancePhase(code, 1, phase.GameOver)
	require.NoError(t, err)
	assert.Equal(t, phase.GameOver, snap.Phase)
}

func TestRoundEnd_AutoAdvance(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RoundEndDelay = 20 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	_, err := rm.CompleteRound(code, false)
	require.NoError(t, err)

	snap, ok := clients[1].WaitForSnapshot(func(s protocol.RoomSnapshot) bool {
		return s.Phase == "in_game" && s.RoundNumber == 2
	}, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, 1, snap.CurrentPlayerTurn)

	// 最后一回合结束后自动进入 GameOver
	_, err = rm.CompleteRound(code, false)
	require.NoError(t, err)
	_, ok = clients[0].WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return s.Phase == "game_over" }, waitTimeout)
	assert.True(t, ok)
}

func TestRoundEnd_ManualAdvanceCancelsTimer(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxRounds = 5
	opts.RoundEndDelay = 50 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})
	code, _ := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	_, err := rm.CompleteRound(code, false)
	require.NoError(t, err)
	snap, err := rm.AdvancePhase(code, 1, phase.InGame)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RoundNumber)

	time.Sleep(150 * time.Millisecond)

	after, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, phase.InGame, after.Phase)
	assert.Equal(t, 2, after.RoundNumber)
	assert.Equal(t, snap.Version, after.Version)
}

func TestLeaveRoom(t *testing.T) {
	t.Parallel()

	store := testutil.NewMemoryStore()
	rm := newTestManager(t, testOptions(), Deps{Store: store})
	code, clients := setupRoom(t, rm, 2)

	// 房主离开，房主转移
	require.NoError(t, rm.LeaveRoom(code, 1))
	assert.Equal(t, "", clients[0].GetRoom())

	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.True(t, player(snap, 2).IsHost)

	assert.ErrorIs(t, rm.LeaveRoom(code, 1), apperrors.ErrPlayerNotFound)

	// 最后一人离开，房间解散
	require.NoError(t, rm.LeaveRoom(code, 2))
	assert.Equal(t, 0, rm.RoomCount())

	_, err = rm.Snapshot(code)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)

	assert.Eventually(t, func() bool { return !store.Reserved(code) }, waitTimeout, 10*time.Millisecond)
	_, saved := store.Room(code)
	assert.False(t, saved)
}

func TestLeaveRoom_MidGameKeepsSeat(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 3)
	startGame(t, rm, code, 3)

	require.NoError(t, rm.LeaveRoom(code, 2))
	assert.Equal(t, "", clients[1].GetRoom())

	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	require.Len(t, snap.Players, 3)
	assert.False(t, player(snap, 2).IsConnected)
	assert.Equal(t, phase.InGame, snap.Phase)

	// 轮转跳过离开的玩家
	snap, err = rm.AdvanceTurn(code)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.CurrentPlayerTurn)
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	rm.Disconnect(code, 2, clients[1].GetID())
	snap, ok := clients[0].WaitForSnapshot(func(s protocol.RoomSnapshot) bool {
		return len(s.Roster) == 2 && !s.Roster[1].IsConnected
	}, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, "in_game", snap.Phase)

	fresh := testutil.NewSimpleClient("c2-new", "P2")
	after, err := rm.Reconnect(code, instanceOf(t, rm, code), 2, fresh)
	require.NoError(t, err)
	assert.True(t, player(after, 2).IsConnected)
	assert.Equal(t, phase.InGame, after.Phase)
	assert.Equal(t, code, fresh.GetRoom())
	assert.Equal(t, 2, fresh.GetPlayerID())

	// 新连接先收到 reconnected 再收到 room_state
	msgs := fresh.Messages()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, protocol.MsgReconnected, msgs[0].Type)
	assert.Equal(t, protocol.MsgRoomState, msgs[1].Type)

	// 旧连接迟到的断线事件被忽略
	rm.Disconnect(code, 2, "c2")
	later, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, after.Version, later.Version)
	assert.True(t, player(later, 2).IsConnected)

	_, err = rm.Reconnect(code, instanceOf(t, rm, code), 7, testutil.NewSimpleClient("c7", "x"))
	assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
}

func TestReconnect_TakesOverLiveConnection(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)

	fresh := testutil.NewSimpleClient("c2-tab", "P2")
	_, err := rm.Reconnect(code, instanceOf(t, rm, code), 2, fresh)
	require.NoError(t, err)

	assert.True(t, clients[1].IsClosed())
	assert.Equal(t, "", clients[1].GetRoom())

	// 旧连接关闭触发的断线事件不影响新连接
	rm.Disconnect(code, 2, clients[1].GetID())
	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.True(t, player(snap, 2).IsConnected)
}

func TestReconnect_StaleInstanceAfterCodeReuse(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, _ := setupRoom(t, rm, 2)
	stale := instanceOf(t, rm, code)

	require.NoError(t, rm.LeaveRoom(code, 2))
	require.NoError(t, rm.LeaveRoom(code, 1))
	require.Eventually(t, func() bool { return rm.RoomCount() == 0 }, waitTimeout, 5*time.Millisecond)

	// 同一房间号被新房间复用，座位编号同样从 1 开始
	reused := rm.claim(code)
	require.NotNil(t, reused)
	reused.start()
	require.NoError(t, reused.submit(openIntent{conn: testutil.NewSimpleClient("b1", "Bob"), name: "Bob"}).err)
	seat2 := testutil.NewSimpleClient("b2", "Carol")
	joined, err := rm.JoinRoom(code, seat2, "Carol")
	require.NoError(t, err)
	require.Equal(t, 2, joined.PlayerID)
	assert.NotEqual(t, stale, instanceOf(t, rm, code))

	intruder := testutil.NewSimpleClient("c2-old", "P2")
	_, err = rm.Reconnect(code, stale, 2, intruder)
	assert.ErrorIs(t, err, apperrors.ErrReconnectExpired)
	assert.False(t, seat2.IsClosed())
	assert.Equal(t, "", intruder.GetRoom())

	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, "Carol", player(snap, 2).DisplayName)
	assert.True(t, player(snap, 2).IsConnected)
}

func TestGraceExpiry_RemovesPlayerAndTransfersHost(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.GracePeriod = 30 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})
	code, clients := setupRoom(t, rm, 2)

	rm.Disconnect(code, 1, clients[0].GetID())

	snap, ok := clients[1].WaitForSnapshot(func(s protocol.RoomSnapshot) bool { return len(s.Roster) == 1 }, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Roster[0].PlayerID)
	assert.True(t, snap.Roster[0].IsHost)

	_, err := rm.Reconnect(code, instanceOf(t, rm, code), 1, testutil.NewSimpleClient("c1-new", "Alice"))
	assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
}

func TestGraceExpiry_CancelledByReconnect(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.GracePeriod = 50 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})
	code, clients := setupRoom(t, rm, 2)

	rm.Disconnect(code, 2, clients[1].GetID())
	_, err := rm.Reconnect(code, instanceOf(t, rm, code), 2, testutil.NewSimpleClient("c2-new", "P2"))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	snap, err := rm.Snapshot(code)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)
	assert.True(t, player(snap, 2).IsConnected)
}

func TestGraceExpiry_LastPlayerClosesRoom(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.GracePeriod = 20 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})
	code, clients := setupRoom(t, rm, 1)

	rm.Disconnect(code, 1, clients[0].GetID())

	assert.Eventually(t, func() bool { return rm.RoomCount() == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestSuspendedWhenEveryoneDisconnects(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	rm.Disconnect(code, 1, clients[0].GetID())
	rm.Disconnect(code, 2, clients[1].GetID())

	require.Eventually(t, func() bool {
		snap, err := rm.Snapshot(code)
		return err == nil && snap.Suspended
	}, waitTimeout, 10*time.Millisecond)

	snap, err := rm.Reconnect(code, instanceOf(t, rm, code), 2, testutil.NewSimpleClient("c2-new", "P2"))
	require.NoError(t, err)
	assert.False(t, snap.Suspended)
	assert.Equal(t, phase.InGame, snap.Phase)
}

func TestHostResetToLobby_OnlyWhenAlone(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)

	_, err := rm.AdvancePhase(code, 1, phase.Lobby)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhase)

	rm.Disconnect(code, 2, clients[1].GetID())
	require.Eventually(t, func() bool {
		snap, err := rm.Snapshot(code)
		return err == nil && !player(snap, 2).IsConnected
	}, waitTimeout, 10*time.Millisecond)

	snap, err := rm.AdvancePhase(code, 1, phase.Lobby)
	require.NoError(t, err)
	assert.Equal(t, phase.Lobby, snap.Phase)
	assert.False(t, snap.GameInProgress)
}

func TestSnapshotVersions_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	store := testutil.NewMemoryStore()
	events := &testutil.RecordingPublisher{}
	rm := newTestManager(t, testOptions(), Deps{Store: store, Events: events})
	code, clients := setupRoom(t, rm, 3)
	startGame(t, rm, code, 3)
	_, err := rm.AdvanceTurn(code)
	require.NoError(t, err)
	final, err := rm.CompleteRound(code, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, ok := store.Room(code)
		return ok && data.Version == final.Version
	}, waitTimeout, 10*time.Millisecond)

	assertIncreasing := func(name string, versions []uint64) {
		for i := 1; i < len(versions); i++ {
			assert.Greater(t, versions[i], versions[i-1], name)
		}
	}
	assertIncreasing("store", store.Versions(code))

	var published []uint64
	for _, s := range events.Snapshots() {
		published = append(published, s.Version)
	}
	assertIncreasing("events", published)

	for _, c := range clients {
		var seen []uint64
		for _, m := range c.MessagesOfType(protocol.MsgRoomState) {
			p, err := codec.ParsePayload[protocol.RoomStatePayload](m)
			require.NoError(t, err)
			seen = append(seen, p.Snapshot.Version)
		}
		assertIncreasing(c.Name, seen)
	}
}

func TestReconnectToken_Issued(t *testing.T) {
	t.Parallel()

	tokens := &testutil.MockTokenIssuer{}
	tokens.On("Issue", mock.Anything, mock.Anything, 1).Return("token-1", nil)

	rm := newTestManager(t, testOptions(), Deps{Tokens: tokens})
	host := testutil.NewSimpleClient("c1", "Alice")
	res, err := rm.CreateRoom(host, "Alice")
	require.NoError(t, err)

	joined := host.MessagesOfType(protocol.MsgRoomJoined)
	require.Len(t, joined, 1)
	p, err := codec.ParsePayload[protocol.RoomJoinedPayload](joined[0])
	require.NoError(t, err)
	assert.Equal(t, "token-1", p.ReconnectToken)
	tokens.AssertCalled(t, "Issue", res.Code, instanceOf(t, rm, res.Code), 1)
}

func TestIdleCleanup(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RoomTimeout = 20 * time.Millisecond
	opts.CleanupInterval = 10 * time.Millisecond
	rm := newTestManager(t, opts, Deps{})

	idleCode, idleClients := setupRoom(t, rm, 2)
	activeCode, _ := setupRoom(t, rm, 1)

	rm.Disconnect(idleCode, 1, idleClients[0].GetID())
	rm.Disconnect(idleCode, 2, idleClients[1].GetID())

	assert.Eventually(t, func() bool {
		_, err := rm.Snapshot(idleCode)
		return errors.Is(err, apperrors.ErrRoomNotFound)
	}, waitTimeout, 10*time.Millisecond)

	// 仍有在线玩家的房间不回收
	_, err := rm.Snapshot(activeCode)
	assert.NoError(t, err)
}

func TestShutdown_NotifiesPlayers(t *testing.T) {
	t.Parallel()

	rm := NewRoomManager(testOptions(), Deps{})
	code, clients := setupRoom(t, rm, 2)
	startGame(t, rm, code, 2)
	assert.Equal(t, 1, rm.GetActiveGamesCount())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, rm.Shutdown(ctx, "maintenance"))

	assert.Equal(t, 0, rm.RoomCount())
	for _, c := range clients {
		closed := c.MessagesOfType(protocol.MsgRoomClosed)
		require.Len(t, closed, 1, c.Name)
		p, err := codec.ParsePayload[protocol.RoomClosedPayload](closed[0])
		require.NoError(t, err)
		assert.Equal(t, "maintenance", p.Reason)
		assert.Equal(t, "", c.GetRoom())
	}

	_, err := rm.SetReady(code, 1, true)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func TestRoom_IsolatedFromOtherRooms(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	codeA, _ := setupRoom(t, rm, 2)
	codeB, clientsB := setupRoom(t, rm, 2)

	startGame(t, rm, codeA, 2)

	snapB, err := rm.Snapshot(codeB)
	require.NoError(t, err)
	assert.Equal(t, phase.Lobby, snapB.Phase)
	for _, m := range clientsB[0].MessagesOfType(protocol.MsgRoomState) {
		p, err := codec.ParsePayload[protocol.RoomStatePayload](m)
		require.NoError(t, err)
		assert.Equal(t, codeB, p.Snapshot.RoomCode)
	}
}
