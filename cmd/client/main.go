package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/party-session/internal/protocol"
	"github.com/palemoky/party-session/internal/protocol/codec"
	"github.com/palemoky/party-session/internal/transport"
)

const usage = `命令:
  create [名字]          创建房间
  join <房间号> [名字]   加入房间
  ready / unready        准备 / 取消准备
  advance <阶段>         房主推进阶段 (lobby/in_game/round_end/game_over)
  leave                  离开房间
  ping                   测量延迟
  quit                   退出`

func main() {
	serverAddr := flag.String("server", "localhost:7777", "服务器地址")
	binary := flag.Bool("binary", false, "使用二进制帧")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var opts []transport.Option
	if *binary {
		opts = append(opts, transport.WithFormat(codec.FormatBinary))
	}
	c := transport.NewClient(fmt.Sprintf("ws://%s/ws", *serverAddr), opts...)
	c.OnMessage = printMessage
	c.OnReconnecting = func(attempt, maxTries int) {
		fmt.Printf("🔄 正在重连 (%d/%d)...\n", attempt, maxTries)
	}
	c.OnReconnect = func() { fmt.Println("✅ 重连成功") }
	c.OnClose = func() {
		fmt.Println("🔌 连接已关闭")
		os.Exit(0)
	}

	if err := c.Connect(); err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("连接服务器失败")
	}
	defer c.Close()
	c.StartHeartbeat()

	fmt.Println(usage)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		quit, err := runCommand(c, strings.Fields(scanner.Text()))
		if err != nil {
			fmt.Println("❌", err)
		}
		if quit {
			return
		}
	}
}

func runCommand(c *transport.Client, args []string) (quit bool, err error) {
	if len(args) == 0 {
		return false, nil
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch args[0] {
	case "create":
		return false, c.CreateRoom(arg(1))
	case "join":
		if arg(1) == "" {
			return false, fmt.Errorf("用法: join <房间号> [名字]")
		}
		return false, c.JoinRoom(arg(1), arg(2))
	case "ready":
		return false, c.SetReady(true)
	case "unready":
		return false, c.SetReady(false)
	case "advance":
		if arg(1) == "" {
			return false, fmt.Errorf("用法: advance <阶段>")
		}
		return false, c.AdvancePhase(arg(1))
	case "leave":
		return false, c.LeaveRoom()
	case "ping":
		fmt.Printf("延迟: %dms\n", c.GetLatency())
		return false, c.Ping()
	case "quit", "exit":
		return true, nil
	default:
		fmt.Println(usage)
		return false, nil
	}
}

func printMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgConnected:
		if p, err := codec.ParsePayload[protocol.ConnectedPayload](msg); err == nil {
			fmt.Printf("✅ 已连接，默认昵称 %s\n", p.ClientName)
		}
	case protocol.MsgRoomJoined:
		if p, err := codec.ParsePayload[protocol.RoomJoinedPayload](msg); err == nil {
			fmt.Printf("🏠 进入房间 %s，玩家编号 %d\n", p.Snapshot.RoomCode, p.PlayerID)
			printSnapshot(p.Snapshot)
		}
	case protocol.MsgReconnected:
		if p, err := codec.ParsePayload[protocol.ReconnectedPayload](msg); err == nil {
			printSnapshot(p.Snapshot)
		}
	case protocol.MsgRoomState:
		if p, err := codec.ParsePayload[protocol.RoomStatePayload](msg); err == nil {
			printSnapshot(p.Snapshot)
		}
	case protocol.MsgRoomLeft:
		fmt.Println("👋 已离开房间")
	case protocol.MsgRoomClosed:
		if p, err := codec.ParsePayload[protocol.RoomClosedPayload](msg); err == nil {
			fmt.Printf("🏚️ 房间 %s 已关闭: %s\n", p.RoomCode, p.Reason)
		}
	case protocol.MsgError:
		if p, err := codec.ParsePayload[protocol.ErrorPayload](msg); err == nil {
			fmt.Printf("⚠️ [%d] %s\n", p.Code, p.Message)
		}
	}
}

func printSnapshot(s protocol.RoomSnapshot) {
	fmt.Printf("── 房间 %s  阶段 %s  回合 %d  v%d", s.RoomCode, s.Phase, s.RoundNumber, s.Version)
	if s.Suspended {
		fmt.Print("  (暂停)")
	}
	fmt.Println()
	for i, p := range s.Roster {
		marks := ""
		if p.IsHost {
			marks += "👑"
		}
		if p.IsReady {
			marks += "✔"
		}
		if !p.IsConnected {
			marks += "📴"
		}
		turn := "  "
		if i == s.CurrentPlayerTurn {
			turn = "▶ "
		}
		fmt.Printf("%s#%d %-20s %s\n", turn, p.PlayerID, p.DisplayName, marks)
	}
}
