package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palemoky/party-session/internal/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MatchRecord 已结束对局的归档记录
type MatchRecord struct {
	RoomCode   string                `json:"room_code"`
	Rounds     int                   `json:"rounds"`
	Players    []protocol.PlayerView `json:"players"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Migrate 执行归档库的所有待处理迁移
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("建立迁移源失败: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("建立迁移实例失败: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	return nil
}

// Archive PostgreSQL 对局归档
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive 连接归档库
func NewArchive(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接归档库失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("归档库不可用: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// RecordMatch 写入一条对局记录
func (a *Archive) RecordMatch(ctx context.Context, rec *MatchRecord) error {
	if rec == nil {
		return nil
	}
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("序列化玩家列表失败: %w", err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO matches (room_code, rounds, players, finished_at) VALUES ($1, $2, $3, $4)`,
		rec.RoomCode, rec.Rounds, players, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("写入对局记录失败: %w", err)
	}
	return nil
}

// RecentMatches 按结束时间倒序列出房间最近的对局
func (a *Archive) RecentMatches(ctx context.Context, code string, limit int) ([]MatchRecord, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT room_code, rounds, players, finished_at FROM matches
		 WHERE room_code = $1 ORDER BY finished_at DESC LIMIT $2`,
		code, limit)
	if err != nil {
		return nil, fmt.Errorf("查询对局记录失败: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var (
			rec     MatchRecord
			players []byte
		)
		if err := rows.Scan(&rec.RoomCode, &rec.Rounds, &players, &rec.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return nil, fmt.Errorf("反序列化玩家列表失败: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Ping 检查连接
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close 关闭连接池
func (a *Archive) Close() {
	a.pool.Close()
}
