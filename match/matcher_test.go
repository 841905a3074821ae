package match

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/mgo.v2/bson"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

func encodeQueryRequest(t *testing.T, ns string, query interface{}) protocol.Request {
	t.Helper()

	raw, err := bson.Marshal(query)
	require.NoError(t, err)

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, int32(0))
	body.WriteString(ns)
	body.WriteByte(0)
	binary.Write(&body, binary.LittleEndian, int32(0))
	binary.Write(&body, binary.LittleEndian, int32(1))
	body.Write(raw)

	var msg bytes.Buffer
	binary.Write(&msg, binary.LittleEndian, int32(16+body.Len()))
	binary.Write(&msg, binary.LittleEndian, int32(1))
	binary.Write(&msg, binary.LittleEndian, int32(0))
	binary.Write(&msg, binary.LittleEndian, protocol.OpQuery)
	msg.Write(body.Bytes())

	req, err := protocol.Decode(&msg)
	require.NoError(t, err)
	return req
}

func TestMatchesCommandByName(t *testing.T) {
	req := encodeQueryRequest(t, "testdb.$cmd", bson.M{"ismaster": 1})

	require.True(t, Matches(Command("ismaster"), req))
	require.False(t, Matches(Command("ping"), req))
}

func TestMatchesDocSubsetIgnoresExtraKeys(t *testing.T) {
	req := encodeQueryRequest(t, "testdb.widgets", bson.M{"name": "gizmo", "color": "red"})

	require.True(t, Matches(Doc(bson.M{"name": "gizmo"}), req))
	require.False(t, Matches(Doc(bson.M{"name": "gadget"}), req))
}

func TestMatchesAbsentKey(t *testing.T) {
	req := encodeQueryRequest(t, "testdb.widgets", bson.M{"name": "gizmo"})

	require.True(t, Matches(Doc(bson.M{"color": Absent}), req))
	require.False(t, Matches(Doc(bson.M{"name": Absent}), req))
}

func TestMatchesOrderedDoc(t *testing.T) {
	req := encodeQueryRequest(t, "testdb.widgets", bson.D{{Name: "a", Value: 1}, {Name: "b", Value: 2}, {Name: "c", Value: 3}})

	require.True(t, Matches(Empty().WithOrderedDoc(bson.D{{Name: "a", Value: 1}, {Name: "c", Value: 3}}), req))
	require.False(t, Matches(Empty().WithOrderedDoc(bson.D{{Name: "c", Value: 3}, {Name: "a", Value: 1}}), req))
}

func TestMatchesDatetimeAtMillisecondResolution(t *testing.T) {
	now := time.Now()
	truncated := now.Truncate(time.Millisecond)

	req := encodeQueryRequest(t, "testdb.widgets", bson.M{"createdAt": truncated})

	require.True(t, Matches(Doc(bson.M{"createdAt": now}), req))
}

func TestMatchesObjectIdAcrossRepresentations(t *testing.T) {
	id := bson.NewObjectId()

	req := encodeQueryRequest(t, "testdb.widgets", bson.M{"_id": id})

	require.True(t, Matches(Doc(bson.M{"_id": id.Hex()}), req))
	require.True(t, Matches(Doc(bson.M{"_id": id}), req))
}

func TestMatchesOpcodeClass(t *testing.T) {
	req := encodeQueryRequest(t, "testdb.widgets", bson.M{"name": "gizmo"})

	require.True(t, Matches(Op(ClassQuery), req))
	require.False(t, Matches(Op(ClassInsert), req))
}
