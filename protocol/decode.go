package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/mgo.v2/bson"
)

// Decode reads one complete wire-protocol message from r and returns the
// decoded Request. On an unrecognized opcode it still returns a usable
// *UnknownRequest alongside ErrUnknownOpcode, so a caller wired to hang up
// on decode failure can choose instead to autorespond or log and continue.
func Decode(r io.Reader) (Request, error) {
	hdr, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}

	body := io.LimitReader(r, int64(hdr.payloadLength()))

	switch hdr.Opcode {
	case OpUpdate:
		return decodeUpdateOp(hdr, body)
	case OpInsert:
		return decodeInsertOp(hdr, body)
	case OpQuery:
		return decodeQueryOp(hdr, body)
	case OpGetMore:
		return decodeGetMoreOp(hdr, body)
	case OpDelete:
		return decodeDeleteOp(hdr, body)
	case OpKillCursors:
		return decodeKillCursorsOp(hdr, body)
	case OpMsg:
		return decodeMsgOp(hdr, body)
	default:
		payload, _ := io.ReadAll(body)
		req := &UnknownRequest{
			requestInfo: requestInfo{header: hdr, reqType: RequestTypeUnknown, replyType: ReplyTypeNone},
			Payload:     payload,
		}
		return req, ErrUnknownOpcode
	}
}

func decodeInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func decodeInt64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

// decodeCString reads a NUL-terminated UTF-8 string, the encoding BSON and
// the wire protocol both use for bare names.
func decodeCString(r io.Reader) (string, error) {
	var buf bytes.Buffer
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return "", xerrors.Errorf("unable to read cstring: %w", err)
		}
		if one[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(one[0])
	}
}

func decodeNamespacedCollection(r io.Reader) (NamespacedCollection, error) {
	full, err := decodeCString(r)
	if err != nil {
		return NamespacedCollection{}, err
	}
	if idx := strings.IndexByte(full, '.'); idx >= 0 {
		return NamespacedCollection{Database: full[:idx], Collection: full[idx+1:]}, nil
	}
	return NamespacedCollection{Database: full}, nil
}

// decodeBSONDocument reads one length-prefixed BSON document off r, parsing
// it both as an unordered bson.M and an order-preserving bson.D.
func decodeBSONDocument(r io.Reader) (bson.M, bson.D, error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, nil, err
	}
	if length < 4 {
		return nil, nil, xerrors.Errorf("malformed BSON document: declared length %d is too small", length)
	}

	buf := make([]byte, length)
	binary.LittleEndian.PutUint32(buf[:4], uint32(length))
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, nil, xerrors.Errorf("unable to read BSON document body: %w", err)
	}

	var m bson.M
	if err := bson.Unmarshal(buf, &m); err != nil {
		return nil, nil, xerrors.Errorf("unable to unmarshal BSON document: %w", err)
	}
	var d bson.D
	if err := bson.Unmarshal(buf, &d); err != nil {
		return nil, nil, xerrors.Errorf("unable to unmarshal ordered BSON document: %w", err)
	}
	return m, d, nil
}

func decodeUpdateOp(hdr RPCHeader, r io.Reader) (*UpdateRequest, error) {
	if _, err := decodeInt32(r); err != nil { // reserved
		return nil, xerrors.Errorf("OP_UPDATE: unable to read reserved field: %w", err)
	}
	coll, err := decodeNamespacedCollection(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_UPDATE: %w", err)
	}
	flags, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_UPDATE: unable to read flags: %w", err)
	}
	selector, orderedSelector, err := decodeBSONDocument(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_UPDATE: unable to read selector: %w", err)
	}
	update, orderedUpdate, err := decodeBSONDocument(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_UPDATE: unable to read update document: %w", err)
	}

	return &UpdateRequest{
		requestInfo:     requestInfo{header: hdr, reqType: RequestTypeUpdate, replyType: ReplyTypeNone},
		Collection:      coll,
		Selector:        selector,
		Update:          update,
		UFlags:          UpdateFlag(flags),
		orderedSelector: orderedSelector,
		orderedUpdate:   orderedUpdate,
	}, nil
}

func decodeInsertOp(hdr RPCHeader, r io.Reader) (*InsertRequest, error) {
	flags, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_INSERT: unable to read flags: %w", err)
	}
	coll, err := decodeNamespacedCollection(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_INSERT: %w", err)
	}

	var inserts []bson.M
	var ordered []bson.D
	for {
		doc, orderedDoc, err := decodeBSONDocument(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("OP_INSERT: unable to read document: %w", err)
		}
		inserts = append(inserts, doc)
		ordered = append(ordered, orderedDoc)
	}

	return &InsertRequest{
		requestInfo:    requestInfo{header: hdr, reqType: RequestTypeInsert, replyType: ReplyTypeNone},
		Collection:     coll,
		IFlags:         InsertFlag(flags),
		Inserts:        inserts,
		orderedInserts: ordered,
	}, nil
}

func decodeGetMoreOp(hdr RPCHeader, r io.Reader) (*GetMoreRequest, error) {
	if _, err := decodeInt32(r); err != nil { // reserved
		return nil, xerrors.Errorf("OP_GET_MORE: unable to read reserved field: %w", err)
	}
	coll, err := decodeNamespacedCollection(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_GET_MORE: %w", err)
	}
	numToReturn, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_GET_MORE: unable to read numberToReturn: %w", err)
	}
	cursorID, err := decodeInt64(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_GET_MORE: unable to read cursorID: %w", err)
	}

	return &GetMoreRequest{
		requestInfo: requestInfo{header: hdr, reqType: RequestTypeGetMore, replyType: ReplyTypeOpReply},
		Collection:  coll,
		NumToReturn: numToReturn,
		CursorID:    cursorID,
	}, nil
}

func decodeDeleteOp(hdr RPCHeader, r io.Reader) (*DeleteRequest, error) {
	if _, err := decodeInt32(r); err != nil { // reserved
		return nil, xerrors.Errorf("OP_DELETE: unable to read reserved field: %w", err)
	}
	coll, err := decodeNamespacedCollection(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_DELETE: %w", err)
	}
	flags, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_DELETE: unable to read flags: %w", err)
	}
	selector, orderedSelector, err := decodeBSONDocument(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_DELETE: unable to read selector: %w", err)
	}

	limit := 0
	if flags&1 != 0 {
		limit = 1
	}

	return &DeleteRequest{
		requestInfo:     requestInfo{header: hdr, reqType: RequestTypeDelete, replyType: ReplyTypeNone},
		Collection:      coll,
		Selector:        selector,
		Limit:           limit,
		orderedSelector: orderedSelector,
	}, nil
}

func decodeKillCursorsOp(hdr RPCHeader, r io.Reader) (*KillCursorsRequest, error) {
	if _, err := decodeInt32(r); err != nil { // reserved
		return nil, xerrors.Errorf("OP_KILL_CURSORS: unable to read reserved field: %w", err)
	}
	n, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_KILL_CURSORS: unable to read numberOfCursorIDs: %w", err)
	}

	ids := make([]int64, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := decodeInt64(r)
		if err != nil {
			return nil, xerrors.Errorf("OP_KILL_CURSORS: unable to read cursorID %d: %w", i, err)
		}
		ids = append(ids, id)
	}

	return &KillCursorsRequest{
		requestInfo: requestInfo{header: hdr, reqType: RequestTypeKillCursors, replyType: ReplyTypeNone},
		CursorIDs:   ids,
	}, nil
}

// decodeQueryOp decodes an OP_QUERY request, unwrapping a legacy
// "$query"-wrapped filter (sent by drivers alongside modifiers like
// "$orderby") into Query/orderedQuery so pattern matching sees the same
// shape a plain find would produce.
func decodeQueryOp(hdr RPCHeader, r io.Reader) (*QueryRequest, error) {
	flags, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_QUERY: unable to read flags: %w", err)
	}
	coll, err := decodeNamespacedCollection(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_QUERY: %w", err)
	}
	numToSkip, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_QUERY: unable to read numberToSkip: %w", err)
	}
	numToReturn, err := decodeInt32(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_QUERY: unable to read numberToReturn: %w", err)
	}
	rawQuery, orderedRaw, err := decodeBSONDocument(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_QUERY: unable to read query document: %w", err)
	}

	var fieldSelector bson.M
	var orderedFieldSelector bson.D
	if fs, ofs, err := decodeBSONDocument(r); err == nil {
		fieldSelector, orderedFieldSelector = fs, ofs
	} else if err != io.EOF {
		return nil, xerrors.Errorf("OP_QUERY: unable to read field selector: %w", err)
	}

	query := rawQuery
	orderedQuery := orderedRaw
	if inner, ok := rawQuery["$query"].(bson.M); ok {
		query = inner
		for _, elem := range orderedRaw {
			if elem.Name == "$query" {
				if od, ok := elem.Value.(bson.D); ok {
					orderedQuery = od
				}
				break
			}
		}
	}

	return &QueryRequest{
		requestInfo:          requestInfo{header: hdr, reqType: RequestTypeQuery, replyType: ReplyTypeOpReply},
		Collection:           coll,
		QFlags:               QueryFlag(flags),
		NumToSkip:            numToSkip,
		NumToReturn:          numToReturn,
		Query:                query,
		RawQuery:             rawQuery,
		FieldSelector:        fieldSelector,
		orderedQuery:         orderedQuery,
		orderedFieldSelector: orderedFieldSelector,
	}, nil
}

// msgSectionKind identifies the two OP_MSG section encodings.
type msgSectionKind byte

const (
	msgSectionSingle   msgSectionKind = 0
	msgSectionSequence msgSectionKind = 1
)

// decodeMsgOp decodes an OP_MSG request. It merges the required kind-0
// section with every kind-1 (document sequence) section, keyed by the
// sequence's identifier; on a key collision the kind-1 sequence wins,
// matching how a real driver layers "documents"/"updates"/"deletes" arrays
// over the base command document. The trailing CRC-32C checksum, if
// present, is read but not verified.
func decodeMsgOp(hdr RPCHeader, r io.Reader) (*MsgRequest, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("OP_MSG: unable to read payload: %w", err)
	}
	br := bytes.NewReader(payload)

	var flagBits uint32
	if err := binary.Read(br, binary.LittleEndian, &flagBits); err != nil {
		return nil, xerrors.Errorf("OP_MSG: unable to read flag bits: %w", err)
	}

	trailer := 0
	if MsgFlag(flagBits)&MsgFlagChecksumPresent != 0 {
		trailer = 4
	}

	body := bson.M{}
	ordered := bson.D{}
	// sequenceKeys tracks identifiers already claimed by a kind-1 section,
	// so a kind-0 section decoded afterward (sections may arrive in any
	// order) can't clobber it back to a plain document value — the kind-1
	// array always wins on a collision, regardless of which section comes
	// first on the wire.
	sequenceKeys := map[string]bool{}

	for br.Len() > trailer {
		kindByte, err := br.ReadByte()
		if err != nil {
			return nil, xerrors.Errorf("OP_MSG: unable to read section kind: %w", err)
		}

		switch msgSectionKind(kindByte) {
		case msgSectionSingle:
			doc, orderedDoc, err := decodeBSONDocument(br)
			if err != nil {
				return nil, xerrors.Errorf("OP_MSG: unable to read kind-0 section: %w", err)
			}
			for k, v := range doc {
				if sequenceKeys[k] {
					continue
				}
				body[k] = v
			}
			for _, elem := range orderedDoc {
				if sequenceKeys[elem.Name] {
					continue
				}
				ordered = setOrdered(ordered, elem.Name, elem.Value)
			}

		case msgSectionSequence:
			seqLen, err := decodeInt32(br)
			if err != nil {
				return nil, xerrors.Errorf("OP_MSG: unable to read sequence length: %w", err)
			}
			seqReader := io.LimitReader(br, int64(seqLen)-4)
			identifier, err := decodeCString(seqReader)
			if err != nil {
				return nil, xerrors.Errorf("OP_MSG: unable to read sequence identifier: %w", err)
			}
			var docs []bson.M
			for {
				doc, _, err := decodeBSONDocument(seqReader)
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, xerrors.Errorf("OP_MSG: unable to read sequence %q document: %w", identifier, err)
				}
				docs = append(docs, doc)
			}
			sequenceKeys[identifier] = true
			body[identifier] = docs
			ordered = setOrdered(ordered, identifier, docs)

		default:
			return nil, ErrMalformedMsgSection
		}
	}

	if trailer > 0 {
		if _, err := io.CopyN(io.Discard, br, int64(trailer)); err != nil {
			return nil, xerrors.Errorf("OP_MSG: unable to read checksum trailer: %w", err)
		}
	}

	database, _ := body["$db"].(string)

	return &MsgRequest{
		requestInfo: requestInfo{header: hdr, reqType: RequestTypeMsg, replyType: ReplyTypeOpMsg},
		MFlags:      MsgFlag(flagBits),
		Body:        body,
		Database:    database,
		orderedBody: ordered,
	}, nil
}

// setOrdered sets name=value in doc, replacing an existing element with the
// same name in place or appending if absent.
func setOrdered(doc bson.D, name string, value interface{}) bson.D {
	for i, elem := range doc {
		if elem.Name == name {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.DocElem{Name: name, Value: value})
}
