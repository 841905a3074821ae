// Package protocol implements the MongoDB wire-protocol codec: framing,
// legacy-opcode and OP_MSG decoding, and the symmetric encoder used to write
// replies back to a connected client. BSON document encode/decode itself is
// delegated to gopkg.in/mgo.v2/bson; this package only frames, slices, and
// concatenates.
package protocol

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// headerSize is the size, in bytes, of the standard mongo RPC header.
const headerSize = 16

// Opcode identifies the wire-protocol message type carried by a request or
// reply.
//
// See https://docs.mongodb.com/manual/reference/mongodb-wire-protocol/.
type Opcode int32

// The opcodes understood by this package.
const (
	OpReply       Opcode = 1
	OpUpdate      Opcode = 2001
	OpInsert      Opcode = 2002
	OpQuery       Opcode = 2004
	OpGetMore     Opcode = 2005
	OpDelete      Opcode = 2006
	OpKillCursors Opcode = 2007
	OpMsg         Opcode = 2013
)

// String implements fmt.Stringer for Opcode.
func (op Opcode) String() string {
	switch op {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpMsg:
		return "OP_MSG"
	default:
		return "OP_UNKNOWN"
	}
}

// RPCHeader provides information about a request or response payload, common
// to every wire-protocol message.
type RPCHeader struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	Opcode        Opcode
}

// payloadLength returns the size of the message payload, excluding the
// header.
func (h RPCHeader) payloadLength() int { return int(h.MessageLength) - headerSize }

func decodeHeader(r io.Reader) (RPCHeader, error) {
	var hdr RPCHeader

	if err := binary.Read(r, binary.LittleEndian, &hdr.MessageLength); err != nil {
		return RPCHeader{}, xerrors.Errorf("unable to read message length field: %w", err)
	}
	if hdr.MessageLength < headerSize {
		return RPCHeader{}, xerrors.Errorf("malformed message: length %d is smaller than the header size", hdr.MessageLength)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.RequestID); err != nil {
		return RPCHeader{}, xerrors.Errorf("unable to read request ID field: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.ResponseTo); err != nil {
		return RPCHeader{}, xerrors.Errorf("unable to read response-to field: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Opcode); err != nil {
		return RPCHeader{}, xerrors.Errorf("unable to read opcode field: %w", err)
	}

	return hdr, nil
}

func writeHeaderTo(w io.Writer, hdr RPCHeader) error {
	if err := binary.Write(w, binary.LittleEndian, hdr.MessageLength); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.RequestID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.ResponseTo); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, hdr.Opcode)
}
