package mongomock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mongodb-labs/mongo-mockup-db/match"
)

func TestAutoresponderChainMostRecentlyAddedWins(t *testing.T) {
	chain := newAutoresponderChain()
	req := newTestRequest(t)

	var calls []string
	chain.add(match.Empty(), func(*Request) bool {
		calls = append(calls, "first")
		return true
	})
	chain.add(match.Empty(), func(*Request) bool {
		calls = append(calls, "second")
		return true
	})

	handled := chain.dispatch(req)
	require.True(t, handled)
	require.Equal(t, []string{"second"}, calls)
}

func TestAutoresponderChainFallsThroughWhenUnhandled(t *testing.T) {
	chain := newAutoresponderChain()
	req := newTestRequest(t)

	chain.add(match.Empty(), func(*Request) bool { return false })

	require.False(t, chain.dispatch(req))
}

func TestAutoresponderAppendLowPrecedenceAlwaysLast(t *testing.T) {
	chain := newAutoresponderChain()
	req := newTestRequest(t)

	var calls []string
	chain.appendLowPrecedence(match.Empty(), func(*Request) bool {
		calls = append(calls, "fallback")
		return true
	})
	chain.add(match.Empty(), func(*Request) bool {
		calls = append(calls, "specific")
		return true
	})

	chain.dispatch(req)
	require.Equal(t, []string{"specific"}, calls)
}

func TestAutoresponderRemove(t *testing.T) {
	chain := newAutoresponderChain()
	req := newTestRequest(t)

	h := chain.add(match.Empty(), func(*Request) bool { return true })
	require.NoError(t, chain.remove(h))
	require.ErrorIs(t, chain.remove(h), ErrUnknownResponderHandle)

	require.False(t, chain.dispatch(req))
}
