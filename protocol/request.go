package protocol

import (
	"fmt"
	"sort"

	"gopkg.in/mgo.v2/bson"
)

// RequestType describes the decoded shape of a client request. It maps 1:1
// onto the wire opcodes this package understands, plus Unknown for anything
// the decoder could not classify.
type RequestType string

// The supported request types.
const (
	RequestTypeQuery       RequestType = "query"
	RequestTypeInsert      RequestType = "insert"
	RequestTypeUpdate      RequestType = "update"
	RequestTypeDelete      RequestType = "delete"
	RequestTypeGetMore     RequestType = "getMore"
	RequestTypeKillCursors RequestType = "killCursors"
	RequestTypeMsg         RequestType = "msg"
	RequestTypeUnknown     RequestType = "unknown"
)

// AllRequestTypeNames returns a lexicographically sorted list of every
// request type name the decoder can produce.
func AllRequestTypeNames() []string {
	list := []string{
		string(RequestTypeQuery),
		string(RequestTypeInsert),
		string(RequestTypeUpdate),
		string(RequestTypeDelete),
		string(RequestTypeGetMore),
		string(RequestTypeKillCursors),
		string(RequestTypeMsg),
		string(RequestTypeUnknown),
	}
	sort.Strings(list)
	return list
}

// ReplyType describes the wire shape expected for the reply to a request, if
// any.
type ReplyType uint8

// The supported reply types.
const (
	// ReplyTypeNone means no reply is ever sent for this request (legacy
	// INSERT/UPDATE/DELETE/KILL_CURSORS).
	ReplyTypeNone ReplyType = iota
	// ReplyTypeOpReply means the reply uses the OP_REPLY envelope.
	ReplyTypeOpReply
	// ReplyTypeOpMsg means the reply uses the OP_MSG envelope.
	ReplyTypeOpMsg
)

// Request is implemented by every decoded client request. Concrete types are
// a closed set (see the RequestType constants); callers needing
// opcode-specific fields type-assert to the concrete type, or use Extra for
// the handful of scalar fields the matcher needs without assuming a concrete
// type.
type Request interface {
	// Header returns the raw RPC header this request was decoded from.
	Header() RPCHeader
	// Opcode returns the wire opcode for this request.
	Opcode() Opcode
	// Type returns the decoded request type.
	Type() RequestType
	// WireReplyType returns the kind of reply expected for this request.
	WireReplyType() ReplyType
	// RequestID returns the unique request ID assigned by the client.
	RequestID() int32
	// Namespace returns the "db.collection" (or bare "db" for OP_MSG;
	// "db.$cmd" for an OP_QUERY command) this request targets, or "" if the
	// opcode carries none (KILL_CURSORS).
	Namespace() string
	// Documents returns the ordered list of BSON documents carried by this
	// request, as unordered maps. Meaning and length are opcode-dependent.
	Documents() []bson.M
	// OrderedDocuments returns the same documents as Documents but
	// preserving on-the-wire key order, for ordered-pattern matching.
	OrderedDocuments() []bson.D
	// Flags returns the opcode-specific flag bits, widened to uint32, or 0
	// if the opcode carries none.
	Flags() uint32
	// Extra looks up an opcode-specific scalar field by name (e.g.
	// "num_to_return", "cursor_id", "cursor_ids"). ok is false if this
	// request's opcode does not carry that field.
	Extra(name string) (value interface{}, ok bool)
}

// requestInfo is embedded by every concrete Request implementation to avoid
// repeating the header/type/reply-type plumbing.
type requestInfo struct {
	header    RPCHeader
	reqType   RequestType
	replyType ReplyType
}

func (r requestInfo) Header() RPCHeader        { return r.header }
func (r requestInfo) Opcode() Opcode           { return r.header.Opcode }
func (r requestInfo) RequestID() int32         { return r.header.RequestID }
func (r requestInfo) Type() RequestType        { return r.reqType }
func (r requestInfo) WireReplyType() ReplyType { return r.replyType }

// NamespacedCollection encodes a namespaced collection ("db.collection").
type NamespacedCollection struct {
	Database   string
	Collection string
}

// String implements fmt.Stringer for NamespacedCollection.
func (c NamespacedCollection) String() string {
	if c.Collection == "" {
		return c.Database
	}
	return fmt.Sprintf("%s.%s", c.Database, c.Collection)
}

// UpdateFlag represents the allowed flag values for an update request.
type UpdateFlag uint32

// The list of supported update flags.
const (
	// UpdateFlagUpsert inserts the supplied object if no matching document
	// is found.
	UpdateFlagUpsert UpdateFlag = 1 << iota
	// UpdateFlagMulti updates all matching documents rather than just the
	// first.
	UpdateFlagMulti
)

// UpdateRequest represents a legacy OP_UPDATE request.
type UpdateRequest struct {
	requestInfo

	Collection NamespacedCollection
	Selector   bson.M
	Update     bson.M
	UFlags     UpdateFlag

	orderedSelector bson.D
	orderedUpdate   bson.D
}

func (r *UpdateRequest) Namespace() string { return r.Collection.String() }
func (r *UpdateRequest) Documents() []bson.M {
	return []bson.M{r.Selector, r.Update}
}
func (r *UpdateRequest) OrderedDocuments() []bson.D {
	return []bson.D{r.orderedSelector, r.orderedUpdate}
}
func (r *UpdateRequest) Flags() uint32 { return uint32(r.UFlags) }
func (r *UpdateRequest) Extra(string) (interface{}, bool) { return nil, false }

// InsertFlag represents the allowed flag values for an insert request.
type InsertFlag uint32

// The list of supported insert flags.
const (
	// InsertFlagContinueOnError continues processing a bulk insert even if
	// an error occurs on one of the documents.
	InsertFlagContinueOnError InsertFlag = 1 << iota
)

// InsertRequest represents a legacy OP_INSERT request.
type InsertRequest struct {
	requestInfo

	Collection NamespacedCollection
	IFlags     InsertFlag
	Inserts    []bson.M

	orderedInserts []bson.D
}

func (r *InsertRequest) Namespace() string          { return r.Collection.String() }
func (r *InsertRequest) Documents() []bson.M        { return r.Inserts }
func (r *InsertRequest) OrderedDocuments() []bson.D { return r.orderedInserts }
func (r *InsertRequest) Flags() uint32              { return uint32(r.IFlags) }
func (r *InsertRequest) Extra(string) (interface{}, bool) { return nil, false }

// GetMoreRequest represents a request to read additional documents off a
// cursor.
type GetMoreRequest struct {
	requestInfo

	Collection  NamespacedCollection
	NumToReturn int32
	CursorID    int64
}

func (r *GetMoreRequest) Namespace() string          { return r.Collection.String() }
func (r *GetMoreRequest) Documents() []bson.M        { return nil }
func (r *GetMoreRequest) OrderedDocuments() []bson.D { return nil }
func (r *GetMoreRequest) Flags() uint32              { return 0 }
func (r *GetMoreRequest) Extra(name string) (interface{}, bool) {
	switch name {
	case "num_to_return":
		return r.NumToReturn, true
	case "cursor_id":
		return r.CursorID, true
	default:
		return nil, false
	}
}

// DeleteRequest represents a legacy OP_DELETE request.
type DeleteRequest struct {
	requestInfo

	Collection NamespacedCollection
	Selector   bson.M
	Limit      int

	orderedSelector bson.D
}

func (r *DeleteRequest) Namespace() string   { return r.Collection.String() }
func (r *DeleteRequest) Documents() []bson.M { return []bson.M{r.Selector} }
func (r *DeleteRequest) OrderedDocuments() []bson.D {
	return []bson.D{r.orderedSelector}
}
func (r *DeleteRequest) Flags() uint32 { return 0 }
func (r *DeleteRequest) Extra(name string) (interface{}, bool) {
	if name == "limit" {
		return r.Limit, true
	}
	return nil, false
}

// KillCursorsRequest represents a request to close a set of active cursors.
type KillCursorsRequest struct {
	requestInfo

	CursorIDs []int64
}

func (r *KillCursorsRequest) Namespace() string          { return "" }
func (r *KillCursorsRequest) Documents() []bson.M        { return nil }
func (r *KillCursorsRequest) OrderedDocuments() []bson.D { return nil }
func (r *KillCursorsRequest) Flags() uint32              { return 0 }
func (r *KillCursorsRequest) Extra(name string) (interface{}, bool) {
	if name == "cursor_ids" {
		return r.CursorIDs, true
	}
	return nil, false
}

// QueryFlag represents the allowed flag values for a query request.
type QueryFlag uint32

// The list of supported query flags.
const (
	_ QueryFlag = 1 << iota // bit 0 is reserved
	QueryFlagTailableCursor
	QueryFlagSlaveOK
	QueryFlagOplogReplay
	QueryFlagNoCursorTimeout
	QueryFlagAwaitData
	QueryFlagExhaust
	QueryFlagPartial
)

// QueryRequest represents an OP_QUERY request. It covers both plain finds
// and command-carrying queries (namespace ending in ".$cmd"); use IsCommand
// and CommandName to tell them apart.
type QueryRequest struct {
	requestInfo

	Collection    NamespacedCollection
	QFlags        QueryFlag
	NumToSkip     int32
	NumToReturn   int32
	Query         bson.M // the $query-unwrapped inner document
	RawQuery      bson.M // the document exactly as sent on the wire
	FieldSelector bson.M

	orderedQuery         bson.D
	orderedFieldSelector bson.D
}

func (r *QueryRequest) Namespace() string { return r.Collection.String() }

// IsCommand reports whether this query targets a ".$cmd" namespace, i.e. is
// command-carrying rather than a plain find.
func (r *QueryRequest) IsCommand() bool { return r.Collection.Collection == "$cmd" }

// CommandName returns the first key of the (unwrapped) query document, which
// by convention names the command when IsCommand is true.
func (r *QueryRequest) CommandName() string {
	if len(r.orderedQuery) == 0 {
		return ""
	}
	return r.orderedQuery[0].Name
}

func (r *QueryRequest) Documents() []bson.M {
	if r.FieldSelector != nil {
		return []bson.M{r.Query, r.FieldSelector}
	}
	return []bson.M{r.Query}
}
func (r *QueryRequest) OrderedDocuments() []bson.D {
	if r.orderedFieldSelector != nil {
		return []bson.D{r.orderedQuery, r.orderedFieldSelector}
	}
	return []bson.D{r.orderedQuery}
}
func (r *QueryRequest) Flags() uint32 { return uint32(r.QFlags) }
func (r *QueryRequest) Extra(name string) (interface{}, bool) {
	switch name {
	case "num_to_return":
		return r.NumToReturn, true
	case "num_to_skip":
		return r.NumToSkip, true
	default:
		return nil, false
	}
}

// MsgFlag represents the allowed flag bits for an OP_MSG request.
type MsgFlag uint32

// The supported OP_MSG flag bits.
const (
	// MsgFlagChecksumPresent means a CRC-32C checksum trails the message.
	MsgFlagChecksumPresent MsgFlag = 1 << 0
	// MsgFlagMoreToCome means the sender will send further messages
	// without waiting for a reply to this one.
	MsgFlagMoreToCome MsgFlag = 1 << 1
	// MsgFlagExhaustAllowed means the client is prepared to receive
	// multiple replies without sending further requests.
	MsgFlagExhaustAllowed MsgFlag = 1 << 16
)

// MsgRequest represents an OP_MSG request. Body is the merged view of the
// required kind-0 section with every kind-1 (document sequence) section
// appended as an array field under its identifier; per an identifier/key
// collision, the kind-1 array wins (see protocol decode.go).
type MsgRequest struct {
	requestInfo

	MFlags   MsgFlag
	Body     bson.M
	Database string

	orderedBody bson.D
}

func (r *MsgRequest) Namespace() string { return r.Database }

// CommandName returns the first key of the merged body document.
func (r *MsgRequest) CommandName() string {
	if len(r.orderedBody) == 0 {
		return ""
	}
	return r.orderedBody[0].Name
}

func (r *MsgRequest) Documents() []bson.M        { return []bson.M{r.Body} }
func (r *MsgRequest) OrderedDocuments() []bson.D { return []bson.D{r.orderedBody} }
func (r *MsgRequest) Flags() uint32              { return uint32(r.MFlags) }
func (r *MsgRequest) Extra(string) (interface{}, bool) { return nil, false }

// UnknownRequest represents a client request using an opcode the decoder
// does not recognize.
type UnknownRequest struct {
	requestInfo

	// Payload is the raw captured payload (excluding the header).
	Payload []byte
}

func (r *UnknownRequest) Namespace() string          { return "" }
func (r *UnknownRequest) Documents() []bson.M        { return nil }
func (r *UnknownRequest) OrderedDocuments() []bson.D { return nil }
func (r *UnknownRequest) Flags() uint32              { return 0 }
func (r *UnknownRequest) Extra(string) (interface{}, bool) { return nil, false }
