package match

import (
	"bytes"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/mgo.v2/bson"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

// scalarCmpOpts customizes go-cmp's equality for the handful of BSON scalar
// kinds that have more than one valid Go representation: a datetime is
// considered equal at millisecond resolution (BSON's own resolution), so a
// pattern built with time.Now() still matches a value that round-tripped
// through the wire.
var scalarCmpOpts = cmp.Options{
	cmp.Comparer(func(a, b time.Time) bool {
		return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
	}),
}

// Matches reports whether req satisfies pattern p.
func Matches(p Pattern, req protocol.Request) bool {
	if p.class == ClassCommand {
		if !isCommandRequest(req) {
			return false
		}
		if p.commandName != "" && commandNameOf(req) != p.commandName {
			return false
		}
	} else if p.class != ClassAny {
		actualClass, ok := namedRequestType(req.Type())
		if !ok || actualClass != p.class {
			return false
		}
	}

	if p.namespace != "" && req.Namespace() != p.namespace {
		return false
	}

	if p.flagMask != 0 && req.Flags()&p.flagMask != p.flagValue {
		return false
	}

	for name, want := range p.extras {
		got, ok := req.Extra(name)
		if !ok || !scalarEqual(want, got) {
			return false
		}
	}

	orderedDocs := req.OrderedDocuments()
	unorderedDocs := req.Documents()
	for i := range p.docs {
		doc, orderedDoc, ordered, ok := p.docPatternAt(i)
		if !ok {
			continue
		}
		if ordered {
			if i >= len(orderedDocs) {
				return false
			}
			if !orderedSubsetMatch(orderedDoc, orderedDocs[i]) {
				return false
			}
			continue
		}
		if i >= len(unorderedDocs) {
			return false
		}
		if !subsetMatch(doc, unorderedDocs[i]) {
			return false
		}
	}

	return true
}

func isCommandRequest(req protocol.Request) bool {
	switch r := req.(type) {
	case *protocol.MsgRequest:
		return true
	case *protocol.QueryRequest:
		return r.IsCommand()
	default:
		return false
	}
}

func commandNameOf(req protocol.Request) string {
	switch r := req.(type) {
	case *protocol.MsgRequest:
		return r.CommandName()
	case *protocol.QueryRequest:
		return r.CommandName()
	default:
		return ""
	}
}

// subsetMatch reports whether every key in pattern is present in actual
// (unless bound to Absent, in which case it must be missing) with a
// matching value, ignoring any keys in actual that pattern doesn't mention.
func subsetMatch(pattern, actual bson.M) bool {
	for k, pv := range pattern {
		if pv == Absent {
			if _, present := actual[k]; present {
				return false
			}
			continue
		}
		av, present := actual[k]
		if !present {
			return false
		}
		if !valuesMatch(pv, av) {
			return false
		}
	}
	return true
}

// orderedSubsetMatch is subsetMatch plus the additional requirement that
// the matched keys appear in actual in the same relative order they appear
// in pattern.
func orderedSubsetMatch(pattern, actual bson.D) bool {
	actualMap := actual.Map()
	lastIdx := -1
	for _, pe := range pattern {
		if pe.Value == Absent {
			for _, ae := range actual {
				if ae.Name == pe.Name {
					return false
				}
			}
			continue
		}
		idx := -1
		for i, ae := range actual {
			if ae.Name == pe.Name {
				idx = i
				break
			}
		}
		if idx < 0 || idx <= lastIdx {
			return false
		}
		lastIdx = idx
		if !valuesMatch(pe.Value, actualMap[pe.Name]) {
			return false
		}
	}
	return true
}

func valuesMatch(pv, av interface{}) bool {
	switch pvt := pv.(type) {
	case bson.M:
		avm, ok := toBsonM(av)
		return ok && subsetMatch(pvt, avm)
	case bson.D:
		avm, ok := toBsonM(av)
		return ok && subsetMatch(pvt.Map(), avm)
	case []interface{}:
		avs, ok := av.([]interface{})
		if !ok || len(avs) != len(pvt) {
			return false
		}
		for i := range pvt {
			if !valuesMatch(pvt[i], avs[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(pv, av)
	}
}

func toBsonM(v interface{}) (bson.M, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case bson.D:
		return t.Map(), true
	default:
		return nil, false
	}
}

// scalarEqual compares two leaf BSON values. ObjectId/Binary-shaped values
// are compared by canonical byte representation regardless of which Go type
// carried them in on either side (a pattern built with a hex string still
// matches a decoded bson.ObjectId); everything else falls through to go-cmp
// with scalarCmpOpts.
func scalarEqual(pv, av interface{}) bool {
	if pb, ok := canonicalBytes(pv); ok {
		if ab, ok := canonicalBytes(av); ok {
			return bytes.Equal(pb, ab)
		}
	}
	return cmp.Equal(pv, av, scalarCmpOpts)
}

func canonicalBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case bson.ObjectId:
		return []byte(t), true
	case bson.Binary:
		return t.Data, true
	case []byte:
		return t, true
	case string:
		if bson.IsObjectIdHex(t) {
			return []byte(bson.ObjectIdHex(t)), true
		}
		return nil, false
	default:
		return nil, false
	}
}
