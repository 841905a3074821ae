package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"
)

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writeBSONDoc(t *testing.T, buf *bytes.Buffer, doc interface{}) {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	buf.Write(raw)
}

func frame(opcode Opcode, requestID int32, body []byte) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, int32(headerSize+len(body)))
	binary.Write(&out, binary.LittleEndian, requestID)
	binary.Write(&out, binary.LittleEndian, int32(0))
	binary.Write(&out, binary.LittleEndian, opcode)
	out.Write(body)
	return out.Bytes()
}

func TestDecodeInsertOp(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0)) // flags
	writeCString(&body, "testdb.widgets")
	writeBSONDoc(t, &body, bson.M{"_id": 1, "name": "gizmo"})
	writeBSONDoc(t, &body, bson.M{"_id": 2, "name": "gadget"})

	msg := frame(OpInsert, 42, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	insert, ok := req.(*InsertRequest)
	require.True(t, ok)
	require.Equal(t, "testdb.widgets", insert.Namespace())
	require.Equal(t, int32(42), insert.RequestID())
	require.Equal(t, RequestTypeInsert, insert.Type())
	require.Equal(t, ReplyTypeNone, insert.WireReplyType())
	require.Len(t, insert.Inserts, 2)
	require.Equal(t, "gizmo", insert.Inserts[0]["name"])
	require.Equal(t, "gadget", insert.Inserts[1]["name"])
}

func TestDecodeQueryOpUnwrapsDollarQuery(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0)) // flags
	writeCString(&body, "testdb.widgets")
	binary.Write(&body, binary.LittleEndian, int32(0))   // numberToSkip
	binary.Write(&body, binary.LittleEndian, int32(100)) // numberToReturn
	writeBSONDoc(t, &body, bson.M{
		"$query":   bson.M{"name": "gizmo"},
		"$orderby": bson.M{"name": 1},
	})

	msg := frame(OpQuery, 7, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	q, ok := req.(*QueryRequest)
	require.True(t, ok)
	require.Equal(t, "gizmo", q.Query["name"])
	require.NotContains(t, q.Query, "$query")
	require.Equal(t, "gizmo", q.RawQuery["$query"].(bson.M)["name"])
	require.False(t, q.IsCommand())
}

func TestDecodeQueryOpCommand(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0))
	writeCString(&body, "testdb.$cmd")
	binary.Write(&body, binary.LittleEndian, int32(0))
	binary.Write(&body, binary.LittleEndian, int32(1))
	writeBSONDoc(t, &body, bson.M{"ismaster": 1})

	msg := frame(OpQuery, 1, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	q := req.(*QueryRequest)
	require.True(t, q.IsCommand())
	require.Equal(t, "ismaster", q.CommandName())
}

func TestDecodeMsgOpMergesSequenceSections(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(0)) // flag bits

	body.WriteByte(byte(msgSectionSingle))
	writeBSONDoc(t, &body, bson.D{{Name: "insert", Value: "widgets"}, {Name: "$db", Value: "testdb"}})

	var seq bytes.Buffer
	writeCString(&seq, "documents")
	var doc1, doc2 bytes.Buffer
	writeBSONDoc(t, &doc1, bson.M{"_id": 1})
	writeBSONDoc(t, &doc2, bson.M{"_id": 2})
	seq.Write(doc1.Bytes())
	seq.Write(doc2.Bytes())

	body.WriteByte(byte(msgSectionSequence))
	binary.Write(&body, binary.LittleEndian, int32(4+seq.Len()))
	body.Write(seq.Bytes())

	msg := frame(OpMsg, 9, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	m := req.(*MsgRequest)
	require.Equal(t, "testdb", m.Database)
	require.Equal(t, "insert", m.CommandName())
	docs, ok := m.Body["documents"].([]bson.M)
	require.True(t, ok)
	require.Len(t, docs, 2)
	require.Equal(t, 1, docs[0]["_id"])
}

func TestDecodeMsgOpSequenceSurvivesLaterKind0Collision(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(0)) // flag bits

	var seq bytes.Buffer
	writeCString(&seq, "documents")
	var doc1 bytes.Buffer
	writeBSONDoc(t, &doc1, bson.M{"_id": 1})
	seq.Write(doc1.Bytes())

	body.WriteByte(byte(msgSectionSequence))
	binary.Write(&body, binary.LittleEndian, int32(4+seq.Len()))
	body.Write(seq.Bytes())

	// A kind-0 section arriving after the kind-1 sequence, with a
	// colliding "documents" key, must not clobber the sequence's array.
	body.WriteByte(byte(msgSectionSingle))
	writeBSONDoc(t, &body, bson.M{"insert": "widgets", "$db": "testdb", "documents": "not-an-array"})

	msg := frame(OpMsg, 10, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	m := req.(*MsgRequest)
	docs, ok := m.Body["documents"].([]bson.M)
	require.True(t, ok)
	require.Len(t, docs, 1)
	require.Equal(t, 1, docs[0]["_id"])
}

func TestDecodeUnknownOpcode(t *testing.T) {
	msg := frame(Opcode(9999), 1, []byte{0x01, 0x02, 0x03})
	req, err := Decode(bytes.NewReader(msg))
	require.ErrorIs(t, err, ErrUnknownOpcode)

	unk, ok := req.(*UnknownRequest)
	require.True(t, ok)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, unk.Payload)
}

func TestDecodeGetMoreOp(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0))
	writeCString(&body, "testdb.widgets")
	binary.Write(&body, binary.LittleEndian, int32(50))
	binary.Write(&body, binary.LittleEndian, int64(123456))

	msg := frame(OpGetMore, 3, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	gm := req.(*GetMoreRequest)
	numToReturn, ok := gm.Extra("num_to_return")
	require.True(t, ok)
	require.Equal(t, int32(50), numToReturn)
	cursorID, ok := gm.Extra("cursor_id")
	require.True(t, ok)
	require.Equal(t, int64(123456), cursorID)
}

func TestDecodeKillCursorsOp(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0))
	binary.Write(&body, binary.LittleEndian, int32(2))
	binary.Write(&body, binary.LittleEndian, int64(1))
	binary.Write(&body, binary.LittleEndian, int64(2))

	msg := frame(OpKillCursors, 4, body.Bytes())
	req, err := Decode(bytes.NewReader(msg))
	require.NoError(t, err)

	kc := req.(*KillCursorsRequest)
	require.Equal(t, []int64{1, 2}, kc.CursorIDs)
	require.Equal(t, "", kc.Namespace())
}
