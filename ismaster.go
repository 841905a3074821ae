package mongomock

import (
	"strings"
	"time"

	"gopkg.in/mgo.v2/bson"

	"github.com/mongodb-labs/mongo-mockup-db/match"
)

// registerBuiltins installs the server's built-in autoresponders. They are
// added before any user Autorespond call, so responders installed with
// Autorespond take precedence (the chain's last-registered-first rule
// shadows a built-in the moment a test installs its own handler for the
// same command). Responders installed with AppendResponder sit below the
// built-ins and are tried only after them.
func (s *Server) registerBuiltins() {
	if s.cfg.IsMaster == IsMasterDisabled {
		return
	}
	s.responders.add(match.Op(match.ClassCommand), s.handleIsMaster)
}

// handleIsMaster answers the isMaster/hello handshake commands every driver
// sends immediately after connecting. It is intentionally loose about which
// command name triggered it (isMaster, ismaster, hello) since drivers have
// used all three spellings across versions; anything else falls through so
// the chain (and eventually the inbox) can handle it.
func (s *Server) handleIsMaster(req *Request) bool {
	name := strings.ToLower(req.CommandName())
	if name != "ismaster" && name != "hello" {
		return false
	}

	var doc bson.M
	if s.cfg.IsMaster == IsMasterCustom {
		doc = bson.M{}
		for k, v := range s.cfg.IsMasterDocument {
			doc[k] = v
		}
	} else {
		doc = s.buildIsMasterDoc(req)
	}
	doc["ok"] = float64(1)

	_ = req.replyDoc(doc)
	return true
}

func (s *Server) buildIsMasterDoc(req *Request) bson.M {
	return bson.M{
		"ismaster":            true,
		"maxBsonObjectSize":   16777216,
		"maxMessageSizeBytes": 48000000,
		"maxWriteBatchSize":   100000,
		"localTime":           time.Now(),
		"minWireVersion":      s.cfg.MinWireVersion,
		"maxWireVersion":      s.cfg.MaxWireVersion,
		"readOnly":            false,
		"connectionId":        req.conn.id.String(),
	}
}
