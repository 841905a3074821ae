package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
	"gopkg.in/mgo.v2/bson"
)

// Encode writes a Response to w in the wire shape its ReplyType calls for,
// wrapped in a complete RPC header (length computed automatically).
// requestID is the server-assigned id stamped on the outgoing message;
// callers own the monotonic counter it comes from (see Server's per-server
// counter in mongomock), since spec §3 scopes that counter per server, not
// per process.
func Encode(w io.Writer, resp Response, requestID int32) error {
	var body bytes.Buffer

	switch resp.ReplyType {
	case ReplyTypeOpReply:
		if err := encodeOpReplyBody(&body, resp); err != nil {
			return xerrors.Errorf("unable to encode OP_REPLY body: %w", err)
		}
	case ReplyTypeOpMsg:
		if err := encodeOpMsgBody(&body, resp); err != nil {
			return xerrors.Errorf("unable to encode OP_MSG body: %w", err)
		}
	default:
		return xerrors.Errorf("unable to encode response: unsupported reply type %v", resp.ReplyType)
	}

	hdr := RPCHeader{
		MessageLength: int32(headerSize + body.Len()),
		RequestID:     requestID,
		ResponseTo:    resp.ResponseTo,
		Opcode:        replyOpcode(resp.ReplyType),
	}

	if err := writeHeaderTo(w, hdr); err != nil {
		return xerrors.Errorf("unable to write header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return xerrors.Errorf("unable to write body: %w", err)
	}
	return nil
}

func replyOpcode(t ReplyType) Opcode {
	if t == ReplyTypeOpMsg {
		return OpMsg
	}
	return OpReply
}

func encodeOpReplyBody(w io.Writer, resp Response) error {
	if err := binary.Write(w, binary.LittleEndian, int32(resp.Flags)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, resp.CursorID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, resp.StartingFrom); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(resp.Documents))); err != nil {
		return err
	}
	for _, doc := range resp.Documents {
		if err := encodeBSONDocument(w, doc); err != nil {
			return err
		}
	}
	return nil
}

func encodeOpMsgBody(w io.Writer, resp Response) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(resp.MsgFlags&^MsgFlagChecksumPresent)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(msgSectionSingle)}); err != nil {
		return err
	}
	return encodeBSONDocument(w, resp.Body)
}

func encodeBSONDocument(w io.Writer, doc bson.M) error {
	if doc == nil {
		doc = bson.M{}
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return xerrors.Errorf("unable to marshal BSON document: %w", err)
	}
	_, err = w.Write(raw)
	return err
}
