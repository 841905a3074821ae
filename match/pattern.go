// Package match implements the request/reply pattern matcher used by the
// mock server's request inbox and autoresponder chain: a small value type
// describing the shape of a request a test expects, and a matching routine
// that checks a decoded protocol.Request against it.
package match

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

// absentType is the type of the Absent sentinel. It is unexported so only
// Absent itself can ever be a value of this type.
type absentType struct{}

// Absent is a document-pattern value meaning "this key must not be present
// at all", as distinct from a key bound to bson's nil/Undefined.
var Absent = absentType{}

// OpcodeClass narrows which opcodes a Pattern can match against. ClassAny
// imposes no restriction; ClassCommand matches either a command-carrying
// OP_QUERY (namespace ending in ".$cmd") or any OP_MSG, since both wire
// shapes carry an application command.
type OpcodeClass int

// The supported opcode classes.
const (
	ClassAny OpcodeClass = iota
	ClassCommand
	ClassQuery
	ClassInsert
	ClassUpdate
	ClassDelete
	ClassGetMore
	ClassKillCursors
	ClassMsg
)

// Pattern describes the shape of a request a test expects to see. It is
// built via the constructor functions below (Empty, Command, Op, Doc) and
// refined with the fluent With* methods; it is an immutable value type, so
// every With* method returns a modified copy.
//
// Matching a Pattern against a protocol.Request is pure and safe to call
// concurrently from multiple goroutines (the autoresponder chain may be
// evaluated from several connection workers at once).
type Pattern struct {
	class OpcodeClass

	// commandName, if non-empty, additionally requires the matched
	// document's first key to equal this name.
	commandName string

	// namespace, if non-empty, requires Request.Namespace() to equal it.
	namespace string

	// flagMask/flagValue: if flagMask != 0, requires
	// Request.Flags()&flagMask == flagValue.
	flagMask  uint32
	flagValue uint32

	// extras holds opcode-specific scalar expectations checked via
	// Request.Extra(name).
	extras map[string]interface{}

	// docs holds the ordered or unordered document-subset patterns to
	// check against Request.Documents()/OrderedDocuments(). Each entry is
	// itself a bson.M (or bson.D when ordered is true at that index).
	docs    []interface{}
	ordered []bool
}

// Empty returns a Pattern matching any request at all.
func Empty() Pattern {
	return Pattern{}
}

// Command returns a Pattern restricted to command-carrying requests (OP_MSG,
// or OP_QUERY against a ".$cmd" namespace) whose first document key equals
// name. Only the key name is checked: Command("ismaster") matches
// {ismaster: 1} and {ismaster: true} alike; add WithDoc to constrain the
// value as well.
func Command(name string) Pattern {
	return Pattern{class: ClassCommand, commandName: name}
}

// Op returns a Pattern restricted to the given opcode class.
func Op(class OpcodeClass) Pattern {
	return Pattern{class: class}
}

// Doc returns a Pattern matching any request whose first document is a
// superset of doc (see Matches for the subset rule).
func Doc(doc bson.M) Pattern {
	return Pattern{}.WithDoc(doc)
}

// WithClass returns a copy of p restricted to the given opcode class.
func (p Pattern) WithClass(class OpcodeClass) Pattern {
	p.class = class
	return p
}

// WithNamespace returns a copy of p additionally requiring the given
// namespace.
func (p Pattern) WithNamespace(ns string) Pattern {
	p.namespace = ns
	return p
}

// WithFlags returns a copy of p additionally requiring
// Request.Flags()&mask == value.
func (p Pattern) WithFlags(mask, value uint32) Pattern {
	p.flagMask = mask
	p.flagValue = value
	return p
}

// WithExtra returns a copy of p additionally requiring Request.Extra(name)
// to equal value.
func (p Pattern) WithExtra(name string, value interface{}) Pattern {
	extras := make(map[string]interface{}, len(p.extras)+1)
	for k, v := range p.extras {
		extras[k] = v
	}
	extras[name] = value
	p.extras = extras
	return p
}

// WithDoc returns a copy of p additionally requiring the next positional
// document to be a superset of doc, compared without regard to key order
// (the default; see WithOrderedDoc for order-sensitive matching).
func (p Pattern) WithDoc(doc bson.M) Pattern {
	p.docs = append(append([]interface{}{}, p.docs...), doc)
	p.ordered = append(append([]bool{}, p.ordered...), false)
	return p
}

// WithOrderedDoc returns a copy of p additionally requiring the next
// positional document to be a superset of doc AND to present its matched
// keys in exactly the given order.
func (p Pattern) WithOrderedDoc(doc bson.D) Pattern {
	p.docs = append(append([]interface{}{}, p.docs...), doc)
	p.ordered = append(append([]bool{}, p.ordered...), true)
	return p
}

// FromString builds the bare-string convenience pattern: a command pattern
// matching a command named name, with no further document constraints.
func FromString(name string) Pattern {
	return Command(name)
}

// docPatternAt returns the document pattern at position i as a bson.M plus
// whether it is ordered (in which case orderedDoc also holds the bson.D
// form), and whether a pattern exists at that position at all.
func (p Pattern) docPatternAt(i int) (doc bson.M, orderedDoc bson.D, ordered bool, ok bool) {
	if i < 0 || i >= len(p.docs) {
		return nil, nil, false, false
	}
	ordered = p.ordered[i]
	if ordered {
		d := p.docs[i].(bson.D)
		return d.Map(), d, true, true
	}
	return p.docs[i].(bson.M), nil, false, true
}

// namedRequestType maps a protocol.RequestType to the OpcodeClass it
// satisfies, for classes other than ClassAny/ClassCommand (those are
// checked specially — see matcher.go).
func namedRequestType(t protocol.RequestType) (OpcodeClass, bool) {
	switch t {
	case protocol.RequestTypeQuery:
		return ClassQuery, true
	case protocol.RequestTypeInsert:
		return ClassInsert, true
	case protocol.RequestTypeUpdate:
		return ClassUpdate, true
	case protocol.RequestTypeDelete:
		return ClassDelete, true
	case protocol.RequestTypeGetMore:
		return ClassGetMore, true
	case protocol.RequestTypeKillCursors:
		return ClassKillCursors, true
	case protocol.RequestTypeMsg:
		return ClassMsg, true
	default:
		return ClassAny, false
	}
}
