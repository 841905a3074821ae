package mongomock

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
	"gopkg.in/Sirupsen/logrus.v1"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

// connection is one accepted client socket: a decode loop running on its
// own goroutine, plus the write lock every reply to that client must hold.
type connection struct {
	id     uuid.UUID
	conn   net.Conn
	server *Server
	logger *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newConnection(s *Server, nc net.Conn) *connection {
	id := uuid.New()
	return &connection{
		id:     id,
		conn:   nc,
		server: s,
		logger: s.cfg.Logger.WithField("conn_id", id.String()),
	}
}

// serve runs the decode loop until the connection is closed by either side
// or a decode error occurs. It is meant to run on its own goroutine; wg is
// signalled Done when it returns.
func (c *connection) serve(wg *sync.WaitGroup) {
	defer wg.Done()
	defer c.close()

	c.logger.Debug("connection accepted")

	for {
		req, err := protocol.Decode(c.conn)
		if err != nil {
			if !xerrors.Is(err, io.EOF) {
				c.logger.WithError(err).Debug("closing connection after decode failure")
			}
			return
		}

		wrapped := &Request{proto: req, conn: c}

		if c.server.cfg.Verbose {
			c.logger.Debugf("decoded request: %s", spew.Sdump(req))
		}

		if c.server.responders.dispatch(wrapped) {
			continue
		}
		c.server.inbox.push(wrapped)
	}
}

// sendResponse writes resp to the client, serializing concurrent replies
// (an autoresponder on one goroutine and a Request.Reply call on another
// could otherwise interleave their writes).
func (c *connection) sendResponse(resp protocol.Response) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if c.server.cfg.Verbose {
		c.logger.Debugf("sending reply: %s", spew.Sdump(resp))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.Encode(c.conn, resp, c.server.nextReplyRequestID()); err != nil {
		return xerrors.Errorf("mongomock: unable to write reply: %w", err)
	}
	return nil
}

// hangup closes the socket without sending anything further.
func (c *connection) hangup() {
	c.close()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		c.server.untrackConn(c)
	})
}
