// Package gohelper helps a test drive blocking client calls (the code under
// test, talking to a mongomock.Server) from background goroutines while the
// test thread itself stays free to answer requests via Server.Receives.
// It is client-side only: it never imports the mongomock/protocol/match
// packages, since its whole point is to decouple the test's concurrency
// plumbing from the server's state.
package gohelper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
	"gopkg.in/Sirupsen/logrus.v1"
)

// Result is what a Future resolves to: the return value and error of the
// function passed to Go/Going.
type Result struct {
	Value interface{}
	Err   error
}

// Future represents a function running on a background goroutine. Join
// blocks until it completes (or ctx is cancelled) and returns its result.
type Future struct {
	tag  string
	done chan Result
}

// Go runs fn on a new goroutine and returns a Future for its result. A
// panic inside fn is recovered and surfaced as the Future's error instead
// of crashing the test binary, tagged with a uuid so a failure logged from
// the background goroutine can be matched back to this specific Go call.
func Go(fn func() (interface{}, error)) *Future {
	f := &Future{
		tag:  uuid.New().String(),
		done: make(chan Result, 1),
	}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				logrus.WithField("future_tag", f.tag).Errorf("recovered panic in background goroutine: %v", p)
				f.done <- Result{Err: xerrors.Errorf("gohelper: panic in background goroutine [%s]: %v", f.tag, p)}
			}
		}()

		v, err := fn()
		f.done <- Result{Value: v, Err: err}
	}()

	return f
}

// Join blocks until the Future resolves or ctx is done, whichever comes
// first.
func (f *Future) Join(ctx context.Context) (interface{}, error) {
	select {
	case r := <-f.done:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, xerrors.Errorf("gohelper: context done before future [%s] resolved: %w", f.tag, ctx.Err())
	}
}

// JoinTimeout is a convenience for Join with a plain timeout instead of a
// caller-supplied context.
func (f *Future) JoinTimeout(timeout time.Duration) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Join(ctx)
}

// Tag returns the Future's correlation tag, useful for matching a logged
// background-goroutine failure back to the Go call that started it.
func (f *Future) Tag() string { return f.tag }

// ScopedFuture wraps a Future for use with defer: Close joins it and
// discards the result, logging (rather than silently swallowing) a join
// error.
type ScopedFuture struct {
	future  *Future
	timeout time.Duration
}

// Going is Go, but returns a ScopedFuture meant to be deferred-closed
// rather than explicitly joined.
func Going(fn func() (interface{}, error)) *ScopedFuture {
	return &ScopedFuture{future: Go(fn), timeout: 10 * time.Second}
}

// Close joins the underlying Future, logging (not returning) a join error.
// Intended for `defer going.Close()`.
func (s *ScopedFuture) Close() {
	if _, err := s.future.JoinTimeout(s.timeout); err != nil {
		logrus.WithField("future_tag", s.future.Tag()).WithError(err).Warn("scoped future did not resolve cleanly")
	}
}

// WaitUntil polls predicate with a short backoff until it returns true or
// timeout elapses (default 10s), returning an error naming description on
// timeout.
func WaitUntil(predicate func() bool, description string, timeout ...time.Duration) error {
	d := 10 * time.Second
	if len(timeout) > 0 {
		d = timeout[0]
	}

	deadline := time.Now().Add(d)
	backoff := 5 * time.Millisecond
	for {
		if predicate() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return xerrors.Errorf("gohelper: timed out after %s waiting for: %s", d, description)
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// String implements fmt.Stringer for Result, useful in test failure
// messages.
func (r Result) String() string {
	return fmt.Sprintf("Result{Value: %v, Err: %v}", r.Value, r.Err)
}
