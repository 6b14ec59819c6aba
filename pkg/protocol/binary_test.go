// ABOUTME: Tests for the binary probe codec
// ABOUTME: Golden byte layouts and short-input rejection
package protocol

import (
	"encoding/hex"
	"testing"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestLayout(t *testing.T) {
	data := EncodeRequest(timesync.Request{T1: 0x0102030405060708})
	require.Len(t, data, RequestSize)
	newGolden(t).Assert(t, "request", []byte(hex.EncodeToString(data)))

	req, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, timesync.Timestamp(0x0102030405060708), req.T1)
}

func TestEncodeReplyLayout(t *testing.T) {
	reply := timesync.Reply{T1: 1, T2: -1, T3: 1700000000000000}
	data := EncodeReply(reply)
	require.Len(t, data, ReplySize)
	newGolden(t).Assert(t, "reply", []byte(hex.EncodeToString(data)))

	decoded, err := DecodeReply(data)
	require.NoError(t, err)
	assert.Equal(t, reply, decoded)
}

func TestDecodeShortMessage(t *testing.T) {
	_, err := DecodeRequest(make([]byte, RequestSize-1))
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = DecodeReply(make([]byte, ReplySize-1))
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = DecodeReply(nil)
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := append(EncodeRequest(timesync.Request{T1: 9}), 0xff, 0xff)
	req, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, timesync.Timestamp(9), req.T1)
}
