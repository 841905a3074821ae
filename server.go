package mongomock

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/mongodb-labs/mongo-mockup-db/match"
)

// lifecycleState is the server's run state: it progresses
// listening -> running -> stopping -> stopped and never moves backward.
type lifecycleState int32

const (
	stateListening lifecycleState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Server is a programmable mock server for the MongoDB wire protocol: it
// accepts connections, decodes requests, runs them through the
// autoresponder chain, and queues anything unmatched into an inbox a test
// thread drains with Receives.
type Server struct {
	cfg *Config

	listener   net.Listener
	inbox      *inbox
	responders *autoresponderChain

	state lifecycleState

	connsMu sync.Mutex
	conns   map[*connection]struct{}

	wg sync.WaitGroup

	// replyRequestID is the monotonic counter stamped on every
	// server-initiated message (spec §3: "a monotonic request counter for
	// server->client messages", scoped per Server, not per process).
	// Autoresponder replies run on different connection workers in
	// parallel for distinct requests, so it is bumped atomically.
	replyRequestID int32
}

// NewServer builds a Server and binds its listener, but does not yet accept
// connections — call Run for that. Binding eagerly lets AddressString/URI
// be read before Run, e.g. to hand the address to the driver under test.
func NewServer(opts ...ConfigOption) (*Server, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		inbox:      newInbox(),
		responders: newAutoresponderChain(),
		conns:      make(map[*connection]struct{}),
	}
	s.registerBuiltins()

	listener, err := s.bind()
	if err != nil {
		return nil, xerrors.Errorf("mongomock: unable to bind listener: %w", err)
	}
	s.listener = listener

	return s, nil
}

func (s *Server) bind() (net.Listener, error) {
	if s.cfg.UDSPath != "" {
		return net.Listen("unix", s.cfg.UDSPath)
	}

	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return nil, err
	}
	if s.cfg.TLSConfig != nil {
		return tls.NewListener(l, s.cfg.TLSConfig), nil
	}
	return l, nil
}

// AddressString returns the bound local address (host:port for TCP, socket
// path for a Unix-domain socket).
func (s *Server) AddressString() string {
	return s.listener.Addr().String()
}

// URI returns a mongodb:// connection string pointing at this server.
func (s *Server) URI() string {
	return "mongodb://" + s.AddressString()
}

// Run accepts connections until Stop is called, blocking the calling
// goroutine; callers typically invoke it via `go server.Run()`. It returns
// ErrAlreadyRunning if called more than once, and ErrServerClosed once Stop
// has shut the listener down.
func (s *Server) Run() error {
	if !atomic.CompareAndSwapInt32((*int32)(&s.state), int32(stateListening), int32(stateRunning)) {
		return ErrAlreadyRunning
	}

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32((*int32)(&s.state)) >= int32(stateStopping) {
				return ErrServerClosed
			}
			return xerrors.Errorf("mongomock: accept failed: %w", err)
		}

		c := newConnection(s, nc)
		s.trackConn(c)

		s.wg.Add(1)
		go c.serve(&s.wg)
	}
}

// Stop shuts the server down: closes the listener, closes every live
// connection, closes the inbox (waking any blocked Receives with
// ErrServerStopped), and waits for every connection worker to exit.
// It is idempotent — calling it more than once, or before Run, is safe.
func (s *Server) Stop() error {
	swappedFromRunning := atomic.CompareAndSwapInt32((*int32)(&s.state), int32(stateRunning), int32(stateStopping))
	swappedFromListening := false
	if !swappedFromRunning {
		swappedFromListening = atomic.CompareAndSwapInt32((*int32)(&s.state), int32(stateListening), int32(stateStopping))
	}
	if !swappedFromRunning && !swappedFromListening {
		return nil
	}

	_ = s.listener.Close()
	s.closeAllConns()
	s.inbox.close()
	s.wg.Wait()

	atomic.StoreInt32((*int32)(&s.state), int32(stateStopped))
	return nil
}

func (s *Server) trackConn(c *connection) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c *connection) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Autorespond registers a responder invoked for every subsequent request
// matching pattern, taking precedence over every currently registered
// responder (including the built-in isMaster handler). fn returning true
// stops the chain and keeps the request out of the inbox.
func (s *Server) Autorespond(pattern match.Pattern, fn ResponderFunc) ResponderHandle {
	return s.responders.add(pattern, fn)
}

// AutorespondStatic is a convenience for Autorespond that always replies
// with spec when pattern matches.
func (s *Server) AutorespondStatic(pattern match.Pattern, spec ReplySpec) ResponderHandle {
	return s.responders.add(pattern, func(req *Request) bool {
		_ = req.Reply(spec)
		return true
	})
}

// AppendResponder registers a responder of last resort: it is tried after
// every other currently- or later-registered responder, regardless of
// registration order.
func (s *Server) AppendResponder(pattern match.Pattern, fn ResponderFunc) ResponderHandle {
	return s.responders.appendLowPrecedence(pattern, fn)
}

// RemoveResponder unregisters a previously registered responder.
func (s *Server) RemoveResponder(h ResponderHandle) error {
	return s.responders.remove(h)
}

// Receives blocks for up to the server's configured request timeout for
// the next request, and reports ErrAssertionMismatch if one arrives that
// does not satisfy pattern. Either way, a request that was dequeued cannot
// be inspected again by a later call.
func (s *Server) Receives(pattern match.Pattern) (*Request, error) {
	return s.ReceivesTimeout(pattern, s.cfg.RequestTimeout)
}

// ReceivesTimeout is Receives with an explicit timeout instead of the
// server's configured default.
func (s *Server) ReceivesTimeout(pattern match.Pattern, timeout time.Duration) (*Request, error) {
	req, err := s.inbox.receive(timeout)
	if err != nil {
		return nil, err
	}
	if !match.Matches(pattern, req.proto) {
		return req, ErrAssertionMismatch
	}
	return req, nil
}

// PendingRequests reports how many requests are currently queued in the
// inbox, for diagnostics and test assertions.
func (s *Server) PendingRequests() int {
	return s.inbox.len()
}

// nextReplyRequestID hands out the next request id to stamp on a
// server-initiated message.
func (s *Server) nextReplyRequestID() int32 {
	return atomic.AddInt32(&s.replyRequestID, 1)
}
