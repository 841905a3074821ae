package protocol

import "golang.org/x/xerrors"

// ErrorCode mirrors the numeric error codes mongod returns in command
// replies and $err documents.
type ErrorCode int32

// A handful of well-known error codes that the matcher/server package builds
// replies with; not an exhaustive list of mongod's codes.
const (
	ErrorCodeUnset              ErrorCode = 0
	ErrorCodeCommandNotFound    ErrorCode = 59
	ErrorCodeUnknownError       ErrorCode = 8
	ErrorCodeNotMaster          ErrorCode = 10107
	ErrorCodeCursorNotFound     ErrorCode = 43
)

// ServerError is a structured error carrying a mongod-style error code,
// surfaced to callers that need to inspect it rather than just log it.
type ServerError struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return e.Message
}

// ServerErrorf builds a *ServerError with a formatted message.
func ServerErrorf(code ErrorCode, format string, args ...interface{}) *ServerError {
	return &ServerError{
		Code:    code,
		Message: xerrors.Errorf(format, args...).Error(),
	}
}

// Sentinel errors returned by the decoder.
var (
	// ErrShortBuffer names the case of a message whose declared length
	// doesn't leave enough bytes for a field the decoder expected. Decode
	// does not return it; it reports that case as a wrapped io.EOF or
	// io.ErrUnexpectedEOF.
	ErrShortBuffer = xerrors.New("protocol: buffer shorter than declared message length")
	// ErrUnknownOpcode is returned by Decode when the opcode has no
	// registered decoder; the caller still gets an *UnknownRequest back
	// alongside this error so it can choose to ignore it.
	ErrUnknownOpcode = xerrors.New("protocol: unrecognized opcode")
	// ErrMalformedMsgSection is returned when an OP_MSG section's kind
	// byte or framing is invalid.
	ErrMalformedMsgSection = xerrors.New("protocol: malformed OP_MSG section")
)
