package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/party-session/internal/apperrors"
	"github.com/palemoky/party-session/internal/game/phase"
	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/testutil"
)

// panicClient 收到 room_joined 时 panic
type panicClient struct {
	*testutil.SimpleClient
}

func (c *panicClient) SendMessage(msg *protocol.Message) {
	if msg.Type == protocol.MsgRoomJoined {
		panic("broken connection")
	}
	c.SimpleClient.SendMessage(msg)
}

func TestRoom_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})
	code, _ := setupRoom(t, rm, 1)

	bad := &panicClient{SimpleClient: testutil.NewSimpleClient("bad", "Bad")}
	_, err := rm.JoinRoom(code, bad, "Bad")
	assert.ErrorIs(t, err, apperrors.ErrUnknown)

	// 房间协程仍在运行
	_, err = rm.Snapshot(code)
	assert.NoError(t, err)
}

func TestRoom_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	r := newRoom("123456", testOptions(), Deps{}, nil)
	r.start()

	res := r.submit(openIntent{conn: testutil.NewSimpleClient("c1", "Alice"), name: "Alice"})
	require.NoError(t, res.err)

	res = r.submit(shutdownIntent{reason: "test"})
	require.NoError(t, res.err)

	select {
	case <-r.Done():
	case <-time.After(waitTimeout):
		t.Fatal("room did not close")
	}

	res = r.submit(snapshotIntent{})
	assert.ErrorIs(t, res.err, apperrors.ErrRoomNotFound)

	// 关闭后投递不阻塞
	r.post(disconnectIntent{playerID: 1, connID: "c1"})
}

func TestSnapshot_Conversions(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		RoomCode: "042917",
		Phase:    phase.RoundEnd,
		Players: []protocol.PlayerView{
			{PlayerID: 1, DisplayName: "Alice", IsConnected: true},
			{PlayerID: 3, DisplayName: "Bob", IsHost: true},
		},
		CurrentPlayerTurn: phase.NoTurn,
		GameInProgress:    true,
		RoundNumber:       3,
		Version:           12,
	}

	dto := snap.DTO()
	assert.Equal(t, "round_end", dto.Phase)
	assert.Equal(t, uint64(12), dto.Version)
	assert.Equal(t, snap.Players, dto.Roster)

	data := snap.RoomData(time.Minute)
	assert.Equal(t, "042917", data.Code)
	assert.Equal(t, uint64(12), data.Version)
	assert.Equal(t, time.Minute, data.TTL)

	finished := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := snap.MatchRecord(finished)
	assert.Equal(t, 3, rec.Rounds)
	assert.Equal(t, finished, rec.FinishedAt)

	host, ok := snap.Host()
	require.True(t, ok)
	assert.Equal(t, 3, host.PlayerID)

	_, ok = Snapshot{}.Host()
	assert.False(t, ok)
}

func TestReconnect_TakeoverClosesOldConnection(t *testing.T) {
	t.Parallel()

	rm := newTestManager(t, testOptions(), Deps{})

	old := &testutil.MockClient{}
	old.On("GetID").Return("old").Maybe()
	old.On("SetRoom", mock.Anything).Maybe()
	old.On("SetPlayerID", mock.Anything).Maybe()
	old.On("SendMessage", mock.Anything).Maybe()
	old.On("Close").Once()

	res, err := rm.CreateRoom(old, "Alice")
	require.NoError(t, err)

	fresh := testutil.NewSimpleClient("new", "Alice")
	snap, err := rm.Reconnect(res.Code, instanceOf(t, rm, res.Code), res.PlayerID, fresh)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].IsConnected)

	old.AssertCalled(t, "Close")
	old.AssertCalled(t, "SetRoom", "")
	assert.Equal(t, res.Code, fresh.GetRoom())
	assert.Equal(t, res.PlayerID, fresh.GetPlayerID())
}
