// Command mockserver is a small demo binary for manual smoke-testing: it
// stands up a mongomock.Server, answers the isMaster handshake, and with
// --verbose logs every accepted connection and decoded request; it leaves
// requests sitting in the inbox unanswered (there is no test thread to
// drive it).
package main

import (
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/Sirupsen/logrus.v1"
	"gopkg.in/urfave/cli.v2"

	mongomock "github.com/mongodb-labs/mongo-mockup-db"
)

var (
	rootLogger = logrus.New()
	appLogger  = rootLogger.WithField("module", "mockserver")
)

func main() {
	app := &cli.App{
		Name:  "mockserver",
		Usage: "stand up a programmable mongodb wire-protocol mock server for manual testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-address", Value: "127.0.0.1:37017", Usage: "the address to listen on"},
			&cli.BoolFlag{Name: "verbose", Usage: "dump every decoded request/reply at debug level"},
		},
		Before: setupLogger,
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		appLogger.WithError(err).Error("terminating due to error")
		os.Exit(1)
	}
}

func setupLogger(ctx *cli.Context) error {
	rootLogger.SetOutput(os.Stderr)
	if ctx.Bool("verbose") {
		rootLogger.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func serve(ctx *cli.Context) error {
	srv, err := mongomock.NewServer(
		mongomock.WithListenAddress(ctx.String("listen-address")),
		mongomock.WithVerbose(ctx.Bool("verbose")),
		mongomock.WithLogger(appLogger),
	)
	if err != nil {
		return xerrors.Errorf("unable to create server: %w", err)
	}

	appLogger.WithField("address", srv.AddressString()).Info("listening for connections")
	if err := srv.Run(); err != nil && !xerrors.Is(err, mongomock.ErrServerClosed) {
		return xerrors.Errorf("server exited with error: %w", err)
	}
	return nil
}
