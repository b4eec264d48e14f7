package codec

import (
	"bytes"
	"sync"

	"github.com/palemoky/party-session/internal/protocol"
)

// maxPooledBuffer 超过该容量的缓冲区不再放回池中，
// 偶发的大快照不会长期占住内存
const maxPooledBuffer = 64 << 10

var (
	messages = sync.Pool{New: func() any { return new(protocol.Message) }}
	buffers  = sync.Pool{New: func() any { return new(bytes.Buffer) }}
)

// GetMessage 从池中取出空消息
func GetMessage() *protocol.Message {
	return messages.Get().(*protocol.Message)
}

// PutMessage 清空后归还消息，之后不能再引用 msg.Payload
func PutMessage(msg *protocol.Message) {
	if msg == nil {
		return
	}
	*msg = protocol.Message{}
	messages.Put(msg)
}

// GetBuffer 取出编码缓冲区
func GetBuffer() *bytes.Buffer {
	return buffers.Get().(*bytes.Buffer)
}

// PutBuffer 归还编码缓冲区
func PutBuffer(buf *bytes.Buffer) {
	if !reusable(buf) {
		return
	}
	buf.Reset()
	buffers.Put(buf)
}

func reusable(buf *bytes.Buffer) bool {
	return buf != nil && buf.Cap() <= maxPooledBuffer
}
