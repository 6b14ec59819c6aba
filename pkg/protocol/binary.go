// ABOUTME: Fixed-size binary encoding of probe requests and replies
// ABOUTME: Big-endian microsecond stamps used by the HTTP probe endpoint
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
)

const (
	// RequestSize is the encoded size of a probe request: t1.
	RequestSize = 8

	// ReplySize is the encoded size of a probe reply: t1, t2, t3.
	ReplySize = 3 * 8
)

// ErrShortMessage is returned when a binary message is smaller than its
// fixed size.
var ErrShortMessage = errors.New("short message")

// EncodeRequest returns the 8-byte encoding of req.
func EncodeRequest(req timesync.Request) []byte {
	buf := make([]byte, RequestSize)
	binary.BigEndian.PutUint64(buf, uint64(req.T1))
	return buf
}

// DecodeRequest parses an encoded request. Trailing bytes are ignored.
func DecodeRequest(data []byte) (timesync.Request, error) {
	if len(data) < RequestSize {
		return timesync.Request{}, fmt.Errorf("%w: request is %d bytes, need %d", ErrShortMessage, len(data), RequestSize)
	}
	return timesync.Request{T1: stampAt(data, 0)}, nil
}

// EncodeReply returns the 24-byte encoding of reply.
func EncodeReply(reply timesync.Reply) []byte {
	buf := make([]byte, ReplySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(reply.T1))
	binary.BigEndian.PutUint64(buf[8:16], uint64(reply.T2))
	binary.BigEndian.PutUint64(buf[16:24], uint64(reply.T3))
	return buf
}

// DecodeReply parses an encoded reply. Trailing bytes are ignored.
func DecodeReply(data []byte) (timesync.Reply, error) {
	if len(data) < ReplySize {
		return timesync.Reply{}, fmt.Errorf("%w: reply is %d bytes, need %d", ErrShortMessage, len(data), ReplySize)
	}
	return timesync.Reply{
		T1: stampAt(data, 0),
		T2: stampAt(data, 8),
		T3: stampAt(data, 16),
	}, nil
}

func stampAt(data []byte, off int) timesync.Timestamp {
	return timesync.Timestamp(int64(binary.BigEndian.Uint64(data[off : off+8])))
}
