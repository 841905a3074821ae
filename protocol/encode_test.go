package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
)

func TestEncodeOpReply(t *testing.T) {
	var out bytes.Buffer
	resp := NewOpReply(55, bson.M{"ok": float64(1), "n": 3})

	require.NoError(t, Encode(&out, resp, 1))

	hdr, err := decodeHeader(&out)
	require.NoError(t, err)
	require.Equal(t, OpReply, hdr.Opcode)
	require.Equal(t, int32(1), hdr.RequestID)
	require.Equal(t, int32(55), hdr.ResponseTo)

	var flags int32
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &flags))
	require.Equal(t, int32(ReplyFlagAwaitCapable), flags)

	var cursorID int64
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &cursorID))
	require.Equal(t, int64(0), cursorID)

	var startingFrom, numReturned int32
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &startingFrom))
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &numReturned))
	require.Equal(t, int32(1), numReturned)

	doc, _, err := decodeBSONDocument(&out)
	require.NoError(t, err)
	require.Equal(t, float64(1), doc["ok"])
	require.Equal(t, 3, doc["n"])
}

func TestEncodeOpMsg(t *testing.T) {
	var out bytes.Buffer
	resp := NewOpMsgReply(12, bson.M{"ok": float64(1)})

	require.NoError(t, Encode(&out, resp, 2))

	hdr, err := decodeHeader(&out)
	require.NoError(t, err)
	require.Equal(t, OpMsg, hdr.Opcode)
	require.Equal(t, int32(2), hdr.RequestID)
	require.Equal(t, int32(12), hdr.ResponseTo)

	var flagBits uint32
	require.NoError(t, binary.Read(&out, binary.LittleEndian, &flagBits))
	require.Equal(t, uint32(0), flagBits)

	kind, err := out.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(msgSectionSingle), kind)

	doc, _, err := decodeBSONDocument(&out)
	require.NoError(t, err)
	require.Equal(t, float64(1), doc["ok"])
}
