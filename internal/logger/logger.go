package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxLogSize = 10 * 1024 * 1024

var (
	logFile *os.File
	logPath string
)

// Options 日志初始化参数
type Options struct {
	Level string // debug|info|warn|error
	File  bool   // 写入 ~/.party-session/server.log
	Dir   string // 覆盖日志目录，测试用
}

// Init 初始化全局 zerolog 日志
func Init(opts Options) error {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if opts.File {
		f, err := openLogFile(opts.Dir)
		if err != nil {
			return err
		}
		out = f
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	if logPath != "" {
		log.Info().Str("path", logPath).Msg("logger initialized")
	}
	return nil
}

func openLogFile(dir string) (*os.File, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".party-session")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath = filepath.Join(dir, "server.log")

	// 超过 10MB 轮转，只保留一份 .old
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxLogSize {
		_ = os.Rename(logPath, logPath+".old")
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f
	return f, nil
}

// Close 关闭日志文件
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Room 返回带房间字段的子 logger
func Room(code string) zerolog.Logger {
	return log.With().Str("room", code).Logger()
}

// LogPanic 记录 panic 和调用栈
func LogPanic(r any) {
	log.Error().Str("stack", string(debug.Stack())).Msgf("panic: %v", r)
}

// GetLogPath 返回当前日志文件路径
func GetLogPath() string {
	return logPath
}
