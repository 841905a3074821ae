package mongomock

import "golang.org/x/xerrors"

// Sentinel errors surfaced by the server's public API.
var (
	// ErrNoRequestReceived is returned by Receives when no request
	// matching the requested shape arrived before the timeout elapsed.
	ErrNoRequestReceived = xerrors.New("mongomock: no matching request received before timeout")
	// ErrAssertionMismatch is returned by Receives when a request was
	// received but did not satisfy the supplied pattern. The request is
	// still consumed; it cannot be inspected again by a later call.
	ErrAssertionMismatch = xerrors.New("mongomock: received request did not match the expected pattern")
	// ErrServerClosed is returned by Run once Stop has been called.
	ErrServerClosed = xerrors.New("mongomock: server has been stopped")
	// ErrAlreadyRunning is returned by Run if it is called more than once.
	ErrAlreadyRunning = xerrors.New("mongomock: server is already running")
	// ErrUnknownResponderHandle is returned by RemoveResponder when the
	// handle does not correspond to a currently registered autoresponder.
	ErrUnknownResponderHandle = xerrors.New("mongomock: unknown autoresponder handle")
	// ErrConnectionClosed is returned by Request methods once the
	// underlying connection has already hung up.
	ErrConnectionClosed = xerrors.New("mongomock: connection is closed")
	// ErrAlreadyReplied is returned by Reply/CommandErr/Fail/RepliesToGLE
	// when a Request has already been replied to once.
	ErrAlreadyReplied = xerrors.New("mongomock: request has already been replied to")
	// ErrServerStopped is returned by Receives when Stop closes the inbox
	// while a receive is blocked, distinguishing "the server shut down
	// from under you" from a plain ErrNoRequestReceived timeout.
	ErrServerStopped = xerrors.New("mongomock: server was stopped while waiting for a request")
)
