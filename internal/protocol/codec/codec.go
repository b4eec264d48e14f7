package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/palemoky/party-session/internal/protocol"
)

// Format 帧格式
type Format int

const (
	FormatJSON   Format = iota // 文本帧
	FormatBinary               // 二进制帧（protowire 信封）
)

// 二进制信封字段号
const (
	fieldType    protowire.Number = 1
	fieldPayload protowire.Number = 2
)

var (
	ErrMalformedFrame = errors.New("codec: malformed binary frame")
	ErrMissingType    = errors.New("codec: missing message type")
)

// NewMessage 创建一个新消息，payload 以 JSON 编码
// 注意: 使用完毕后应调用 PutMessage 归还对象到池
func NewMessage(msgType protocol.MessageType, payload any) (*protocol.Message, error) {
	msg := GetMessage()
	msg.Type = msgType

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			PutMessage(msg)
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// MustNewMessage 创建消息，失败时 panic
func MustNewMessage(msgType protocol.MessageType, payload any) *protocol.Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Encode 按帧格式编码消息
func Encode(m *protocol.Message, format Format) ([]byte, error) {
	if format == FormatBinary {
		return encodeBinary(m), nil
	}
	buf := GetBuffer()
	defer PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(m); err != nil {
		return nil, err
	}
	// Encoder 会追加换行
	out := make([]byte, buf.Len()-1)
	copy(out, buf.Bytes())
	return out, nil
}

// Decode 按帧格式解码消息
// 注意: 使用完毕后应调用 PutMessage 归还对象到池
func Decode(data []byte, format Format) (*protocol.Message, error) {
	msg := GetMessage()
	var err error
	if format == FormatBinary {
		err = decodeBinary(data, msg)
	} else {
		err = json.Unmarshal(data, msg)
	}
	if err != nil {
		PutMessage(msg)
		return nil, err
	}
	if msg.Type == "" {
		PutMessage(msg)
		return nil, ErrMissingType
	}
	return msg, nil
}

func encodeBinary(m *protocol.Message) []byte {
	b := make([]byte, 0, len(m.Type)+len(m.Payload)+8)
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, string(m.Type))
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return b
}

func decodeBinary(data []byte, msg *protocol.Message) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrMalformedFrame
		}
		data = data[n:]

		if typ != protowire.BytesType {
			// 未知字段跳过，保持向前兼容
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrMalformedFrame
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return ErrMalformedFrame
		}
		data = data[n:]

		switch num {
		case fieldType:
			msg.Type = protocol.MessageType(v)
		case fieldPayload:
			msg.Payload = append([]byte(nil), v...) // 复制 payload 避免引用
		}
	}
	return nil
}

// ParsePayload 解析消息的 Payload 到指定类型
func ParsePayload[T any](msg *protocol.Message) (*T, error) {
	var payload T
	if len(msg.Payload) == 0 {
		return &payload, nil
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// NewErrorMessage 创建错误消息
func NewErrorMessage(code int) *protocol.Message {
	return NewErrorMessageWithText(code, protocol.ErrorMessages[code])
}

// NewErrorMessageWithText 创建带自定义文本的错误消息
func NewErrorMessageWithText(code int, text string) *protocol.Message {
	msg, _ := NewMessage(protocol.MsgError, protocol.ErrorPayload{
		Code:    code,
		Message: text,
	})
	return msg
}
