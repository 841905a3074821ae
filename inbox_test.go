package mongomock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mongodb-labs/mongo-mockup-db/protocol"
)

func newTestRequest(t *testing.T) *Request {
	t.Helper()
	return &Request{proto: &protocol.UnknownRequest{}}
}

func TestInboxReceiveTimesOutWhenEmpty(t *testing.T) {
	ib := newInbox()

	start := time.Now()
	_, err := ib.receive(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrNoRequestReceived)
	require.WithinDuration(t, start.Add(20*time.Millisecond), time.Now(), 40*time.Millisecond)
}

func TestInboxFIFOOrder(t *testing.T) {
	ib := newInbox()

	first := newTestRequest(t)
	second := newTestRequest(t)
	ib.push(first)
	ib.push(second)

	require.Equal(t, 2, ib.len())

	got, err := ib.receive(time.Second)
	require.NoError(t, err)
	require.Same(t, first, got)

	got, err = ib.receive(time.Second)
	require.NoError(t, err)
	require.Same(t, second, got)
}

func TestInboxReceiveUnblocksOnPush(t *testing.T) {
	ib := newInbox()
	req := newTestRequest(t)

	done := make(chan *Request, 1)
	go func() {
		r, err := ib.receive(time.Second)
		require.NoError(t, err)
		done <- r
	}()

	time.Sleep(10 * time.Millisecond)
	ib.push(req)

	select {
	case got := <-done:
		require.Same(t, req, got)
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock after push")
	}
}

func TestInboxCloseWakesBlockedReceive(t *testing.T) {
	ib := newInbox()

	errCh := make(chan error, 1)
	go func() {
		_, err := ib.receive(time.Minute)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ib.close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrServerStopped)
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked receive")
	}
}
