package protocol

import "gopkg.in/mgo.v2/bson"

// ReplyFlag represents the allowed flag values for an OP_REPLY response.
type ReplyFlag uint32

// The supported OP_REPLY flags.
const (
	// ReplyFlagCursorNotFound is set when GetMore is sent with a cursor ID
	// that is not valid on this server.
	ReplyFlagCursorNotFound ReplyFlag = 1 << iota
	// ReplyFlagQueryFailure is set when the query failed; the single
	// returned document contains the error details under "$err".
	ReplyFlagQueryFailure
	// ReplyFlagShardConfigStale is deprecated and never set by this package.
	ReplyFlagShardConfigStale
	// ReplyFlagAwaitCapable is always set: it tells the client the server
	// supports the AwaitData query flag.
	ReplyFlagAwaitCapable
)

// Response is the reply to a request, addressed to it by ResponseTo. It
// covers both the legacy OP_REPLY envelope and the modern OP_MSG envelope;
// Encode picks the wire shape from ReplyType.
type Response struct {
	ResponseTo int32
	ReplyType  ReplyType

	// OP_REPLY fields.
	Flags        ReplyFlag
	CursorID     int64
	StartingFrom int32
	Documents    []bson.M

	// OP_MSG fields.
	MsgFlags MsgFlag
	Body     bson.M
}

// NewOpReply builds a Response using the legacy OP_REPLY envelope carrying
// the given documents.
func NewOpReply(responseTo int32, docs ...bson.M) Response {
	return Response{
		ResponseTo: responseTo,
		ReplyType:  ReplyTypeOpReply,
		Flags:      ReplyFlagAwaitCapable,
		Documents:  docs,
	}
}

// NewOpQueryFailureReply builds the legacy OP_REPLY shape a real mongod uses
// to fail an OP_QUERY outright: the ReplyFlagQueryFailure bit set and a
// single document whose body is "$err"/"code", rather than the command-level
// "ok: 0" a modern driver checks. Distinct from a command error reply
// (NewOpReply with an "ok: 0" document): this is how pre-OP_MSG drivers are
// told the query itself failed.
func NewOpQueryFailureReply(responseTo int32, code ErrorCode, errmsg string) Response {
	return Response{
		ResponseTo: responseTo,
		ReplyType:  ReplyTypeOpReply,
		Flags:      ReplyFlagAwaitCapable | ReplyFlagQueryFailure,
		Documents: []bson.M{{
			"$err": errmsg,
			"code": int32(code),
		}},
	}
}

// NewOpMsgReply builds a Response using the OP_MSG envelope carrying a
// single kind-0 section.
func NewOpMsgReply(responseTo int32, body bson.M) Response {
	return Response{
		ResponseTo: responseTo,
		ReplyType:  ReplyTypeOpMsg,
		Body:       body,
	}
}
