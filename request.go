package mongomock

import (
	"sync/atomic"

	"golang.org/x/xerrors"
	"gopkg.in/mgo.v2/bson"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

// ReplySpec is the document a test hands to Request.Reply. An "ok" field is
// added automatically (value 1) if the test didn't set one itself.
type ReplySpec bson.M

// Request is the test-facing view of a decoded client request: the same
// value handed to autoresponders and returned by Server.Receives. It wraps
// a protocol.Request with the connection it arrived on, so a test can reply
// to it directly instead of threading a connection reference through by
// hand.
type Request struct {
	proto protocol.Request
	conn  *connection

	replied atomic.Bool
}

// Raw exposes the decoded protocol.Request, for callers that need
// opcode-specific fields Request doesn't surface directly (e.g. an
// InsertRequest's Inserts, or a KillCursorsRequest's CursorIDs).
func (r *Request) Raw() protocol.Request { return r.proto }

// Type returns the decoded request type.
func (r *Request) Type() protocol.RequestType { return r.proto.Type() }

// Namespace returns the "db.collection" (or bare "db") this request
// targets.
func (r *Request) Namespace() string { return r.proto.Namespace() }

// Documents returns the request's documents as unordered maps.
func (r *Request) Documents() []bson.M { return r.proto.Documents() }

// Flags returns the opcode-specific flag bits.
func (r *Request) Flags() uint32 { return r.proto.Flags() }

// IsCommand reports whether this request carries an application command
// (any OP_MSG, or an OP_QUERY against a ".$cmd" namespace).
func (r *Request) IsCommand() bool {
	switch p := r.proto.(type) {
	case *protocol.MsgRequest:
		return true
	case *protocol.QueryRequest:
		return p.IsCommand()
	default:
		return false
	}
}

// CommandName returns the command name (the first document key) if
// IsCommand is true, or "" otherwise.
func (r *Request) CommandName() string {
	switch p := r.proto.(type) {
	case *protocol.MsgRequest:
		return p.CommandName()
	case *protocol.QueryRequest:
		return p.CommandName()
	default:
		return ""
	}
}

// Reply sends spec back to the client as the reply to this request. It
// fails if this request's opcode expects no reply at all (the legacy
// unacknowledged write opcodes); use RepliesToGLE to answer the
// getLastError follow-up those drivers send instead.
func (r *Request) Reply(spec ReplySpec) error {
	doc := bson.M{}
	for k, v := range spec {
		doc[k] = v
	}
	if _, ok := doc["ok"]; !ok {
		doc["ok"] = float64(1)
	}
	return r.replyDoc(doc)
}

// CommandErr replies with a command-error document: ok: 0, the given
// mongod-style error code, and errmsg.
func (r *Request) CommandErr(code protocol.ErrorCode, msg string) error {
	return r.replyDoc(bson.M{
		"ok":     float64(0),
		"errmsg": msg,
		"code":   int32(code),
	})
}

// Fail sends the legacy OP_QUERY failure shape: the OP_REPLY
// ReplyFlagQueryFailure bit set and a single "$err"/"code" document, which
// is how pre-OP_MSG drivers are told the query itself failed (as opposed to
// CommandErr's command-level "ok: 0" document). Requests that reply via
// OP_MSG have no such flag to set, so Fail falls back to CommandErr's shape
// for them.
func (r *Request) Fail(code protocol.ErrorCode, msg string) error {
	if r.proto.WireReplyType() != protocol.ReplyTypeOpReply {
		return r.CommandErr(code, msg)
	}
	if err := r.markReplied(); err != nil {
		return err
	}
	return r.conn.sendResponse(protocol.NewOpQueryFailureReply(r.proto.RequestID(), code, msg))
}

// RepliesToGLE answers a legacy getLastError follow-up with {ok: 1, err:
// nil}. It is meant to be called on the *next* request a test receives
// after an unacknowledged write (UpdateRequest/DeleteRequest/InsertRequest
// carry no reply of their own), since old drivers issue a getLastError
// command right after such a write to learn whether it succeeded.
func (r *Request) RepliesToGLE() error {
	return r.Reply(ReplySpec{"err": nil})
}

// Hangup closes the underlying connection without sending any reply.
func (r *Request) Hangup() {
	r.conn.hangup()
}

// markReplied claims the one-time reply slot, failing if a previous Reply/
// CommandErr/Fail call already claimed it.
func (r *Request) markReplied() error {
	if !r.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	return nil
}

func (r *Request) replyDoc(doc bson.M) error {
	if err := r.markReplied(); err != nil {
		return err
	}
	switch r.proto.WireReplyType() {
	case protocol.ReplyTypeOpMsg:
		return r.conn.sendResponse(protocol.NewOpMsgReply(r.proto.RequestID(), doc))
	case protocol.ReplyTypeOpReply:
		return r.conn.sendResponse(protocol.NewOpReply(r.proto.RequestID(), doc))
	default:
		return xerrors.Errorf("mongomock: opcode %v expects no reply", r.proto.Opcode())
	}
}
