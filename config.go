// Package mongomock implements a programmable mock server for the MongoDB
// wire protocol: a test thread configures autoresponders and reads requests
// out of an ordered inbox, driving replies by hand instead of running a
// real mongod.
package mongomock

import (
	"crypto/tls"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/Sirupsen/logrus.v1"
)

// defaultRequestTimeout is the default duration Receives blocks waiting for
// a matching request before giving up.
const defaultRequestTimeout = 10 * time.Second

// IsMasterMode selects how the server answers the built-in isMaster/hello
// handshake.
type IsMasterMode int

// The supported auto_ismaster modes.
const (
	// IsMasterDefault replies with a standard isMaster document computed
	// from the configured wire version bounds.
	IsMasterDefault IsMasterMode = iota
	// IsMasterDisabled never autoresponds to isMaster; it falls through
	// to the inbox like any other request.
	IsMasterDisabled
	// IsMasterCustom replies with the document supplied via
	// WithIsMasterDocument instead of the computed default.
	IsMasterCustom
)

// Config holds the server's construction-time settings. It is built via
// NewConfig and a chain of ConfigOption values; exported so callers can
// inspect the resolved settings NewConfig returns. The bound address is
// read from Server.AddressString, not from Config.
type Config struct {
	ListenAddress  string
	UDSPath        string
	TLSConfig      *tls.Config
	RequestTimeout time.Duration
	Verbose        bool
	Logger         *logrus.Entry

	IsMaster         IsMasterMode
	IsMasterDocument map[string]interface{}
	MinWireVersion   int
	MaxWireVersion   int
}

// ConfigOption mutates a Config under construction, returning an error if
// the supplied value is invalid.
type ConfigOption func(*Config) error

// WithListenAddress sets the TCP address (host:port, port 0 for an
// ephemeral port) the server binds to. Mutually exclusive with
// WithUnixDomainSocket.
func WithListenAddress(addr string) ConfigOption {
	return func(c *Config) error {
		if addr == "" {
			return xerrors.New("mongomock: listen address must not be empty")
		}
		c.ListenAddress = addr
		return nil
	}
}

// WithUnixDomainSocket binds the server to a Unix-domain socket at path
// instead of a TCP address.
func WithUnixDomainSocket(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return xerrors.New("mongomock: unix domain socket path must not be empty")
		}
		c.UDSPath = path
		return nil
	}
}

// WithTLS wraps accepted connections in TLS using the supplied config.
func WithTLS(cfg *tls.Config) ConfigOption {
	return func(c *Config) error {
		c.TLSConfig = cfg
		return nil
	}
}

// WithRequestTimeout overrides the default 10s Receives timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) error {
		if d <= 0 {
			return xerrors.New("mongomock: request timeout must be positive")
		}
		c.RequestTimeout = d
		return nil
	}
}

// WithVerbose turns on go-spew dumps of every decoded request/reply at
// Debug level.
func WithVerbose(v bool) ConfigOption {
	return func(c *Config) error {
		c.Verbose = v
		return nil
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(logger *logrus.Entry) ConfigOption {
	return func(c *Config) error {
		if logger == nil {
			return xerrors.New("mongomock: logger must not be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithAutoIsMaster disables or customizes the built-in isMaster/hello
// autoresponder. Passing mode == IsMasterCustom requires doc to be
// non-nil; it is returned verbatim (minus the server-stamped "ok" field,
// which is always added).
func WithAutoIsMaster(mode IsMasterMode, doc map[string]interface{}) ConfigOption {
	return func(c *Config) error {
		if mode == IsMasterCustom && doc == nil {
			return xerrors.New("mongomock: IsMasterCustom requires a non-nil document")
		}
		c.IsMaster = mode
		c.IsMasterDocument = doc
		return nil
	}
}

// WithWireVersionBounds overrides the minWireVersion/maxWireVersion fields
// the built-in isMaster responder reports.
func WithWireVersionBounds(min, max int) ConfigOption {
	return func(c *Config) error {
		if min < 0 || max < min {
			return xerrors.Errorf("mongomock: invalid wire version bounds [%d, %d]", min, max)
		}
		c.MinWireVersion = min
		c.MaxWireVersion = max
		return nil
	}
}

// NewConfig builds a Config from opts, applying defaults first.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		ListenAddress:  "127.0.0.1:0",
		RequestTimeout: defaultRequestTimeout,
		Logger:         discardLogger(),
		MinWireVersion: 0,
		MaxWireVersion: 6,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, xerrors.Errorf("mongomock: invalid config option: %w", err)
		}
	}

	if cfg.UDSPath != "" && cfg.ListenAddress != "127.0.0.1:0" {
		return nil, xerrors.New("mongomock: WithListenAddress and WithUnixDomainSocket are mutually exclusive")
	}

	return cfg, nil
}

func discardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = discardWriter{}
	return logrus.NewEntry(logger)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
