package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/palemoky/party-session/internal/protocol"
)

// newTestArchive 启动 PostgreSQL 容器并执行迁移
func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = tc.TerminateContainer(pgContainer) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn))
	// 重复执行不报错
	require.NoError(t, Migrate(dsn))

	archive, err := NewArchive(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(archive.Close)
	return archive
}

func TestArchive_RecordAndListMatches(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	players := []protocol.PlayerView{
		{PlayerID: 1, DisplayName: "Alice", IsHost: true, IsConnected: true},
		{PlayerID: 2, DisplayName: "Bob", IsConnected: false},
	}
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, archive.RecordMatch(ctx, &MatchRecord{
		RoomCode: "123456", Rounds: 3, Players: players, FinishedAt: first,
	}))
	require.NoError(t, archive.RecordMatch(ctx, &MatchRecord{
		RoomCode: "123456", Rounds: 5, Players: players[:1], FinishedAt: first.Add(time.Hour),
	}))
	require.NoError(t, archive.RecordMatch(ctx, &MatchRecord{
		RoomCode: "654321", Rounds: 1, Players: players, FinishedAt: first,
	}))
	assert.NoError(t, archive.RecordMatch(ctx, nil))

	records, err := archive.RecentMatches(ctx, "123456", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 5, records[0].Rounds)
	assert.True(t, records[0].FinishedAt.Equal(first.Add(time.Hour)))
	assert.Equal(t, players[:1], records[0].Players)
	assert.Equal(t, players, records[1].Players)

	records, err = archive.RecentMatches(ctx, "123456", 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = archive.RecentMatches(ctx, "000000", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
