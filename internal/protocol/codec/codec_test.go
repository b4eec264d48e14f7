package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/palemoky/party-session/internal/protocol"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msgType protocol.MessageType
		payload any
		want    string
	}{
		{"nil payload", protocol.MsgLeaveRoom, nil, ""},
		{"ping", protocol.MsgPing, protocol.PingPayload{Timestamp: 12345}, `{"timestamp":12345}`},
		{"join", protocol.MsgJoinRoom, protocol.JoinRoomPayload{RoomCode: "042917", PlayerName: "ann"}, `{"room_code":"042917","player_name":"ann"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := NewMessage(tt.msgType, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.msgType, msg.Type)
			if tt.want == "" {
				assert.Nil(t, msg.Payload)
			} else {
				assert.JSONEq(t, tt.want, string(msg.Payload))
			}
		})
	}
}

func TestNewMessage_Unencodable(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage(protocol.MsgPing, make(chan int))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Panics(t, func() { MustNewMessage(protocol.MsgPing, func() {}) })
}

func TestEncodeDecode_BothFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatJSON, FormatBinary} {
		msg := MustNewMessage(protocol.MsgSetReady, protocol.SetReadyPayload{Ready: true})

		data, err := Encode(msg, format)
		require.NoError(t, err)

		decoded, err := Decode(data, format)
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgSetReady, decoded.Type)

		p, err := ParsePayload[protocol.SetReadyPayload](decoded)
		require.NoError(t, err)
		assert.True(t, p.Ready)
	}
}

func TestEncode_JSONShape(t *testing.T) {
	t.Parallel()

	data, err := Encode(MustNewMessage(protocol.MsgPing, protocol.PingPayload{Timestamp: 1}), FormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","payload":{"timestamp":1}}`, string(data))
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"invalid json", []byte("{not json"), FormatJSON},
		{"missing type json", []byte(`{"payload":{}}`), FormatJSON},
		{"truncated binary", []byte{0x0a, 0x10, 'a'}, FormatBinary},
		{"empty binary", []byte{}, FormatBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := Decode(tt.data, tt.format)
			assert.Error(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestDecodeBinary_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	var b []byte
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, string(protocol.MsgLeaveRoom))

	msg, err := Decode(b, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgLeaveRoom, msg.Type)
	assert.Nil(t, msg.Payload)
}

func TestParsePayload_Empty(t *testing.T) {
	t.Parallel()

	p, err := ParsePayload[protocol.SetReadyPayload](&protocol.Message{Type: protocol.MsgSetReady})
	require.NoError(t, err)
	assert.False(t, p.Ready)

	_, err = ParsePayload[protocol.SetReadyPayload](&protocol.Message{Payload: []byte("[")})
	assert.Error(t, err)
}

func TestNewErrorMessage(t *testing.T) {
	t.Parallel()

	msg := NewErrorMessage(protocol.ErrCodeRoomFull)
	assert.Equal(t, protocol.MsgError, msg.Type)

	p, err := ParsePayload[protocol.ErrorPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeRoomFull, p.Code)
	assert.Equal(t, protocol.ErrorMessages[protocol.ErrCodeRoomFull], p.Message)

	custom := NewErrorMessageWithText(protocol.ErrCodeUnknown, "boom")
	p, err = ParsePayload[protocol.ErrorPayload](custom)
	require.NoError(t, err)
	assert.Equal(t, "boom", p.Message)
}

func BenchmarkEncode(b *testing.B) {
	msg := MustNewMessage(protocol.MsgRoomState, protocol.RoomStatePayload{Snapshot: protocol.RoomSnapshot{
		RoomCode: "123456",
		Phase:    "in_game",
		Roster: []protocol.PlayerView{
			{PlayerID: 1, DisplayName: "alice", IsHost: true, IsReady: true, IsConnected: true},
			{PlayerID: 2, DisplayName: "bob", IsReady: true, IsConnected: true},
		},
		Version: 42,
	}})

	for _, format := range []Format{FormatJSON, FormatBinary} {
		name := "json"
		if format == FormatBinary {
			name = "binary"
		}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := Encode(msg, format); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
