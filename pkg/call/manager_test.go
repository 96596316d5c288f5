package call_test

import (
	"context"
	"testing"

	"github.com/arzzra/webcall/pkg/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegistersAndFindsCalls(t *testing.T) {
	env := newTestEnv()

	incoming := env.manager.OnIncomingSession(newMockSession("cid-m1"), call.Options{Silent: true})
	outgoing := env.manager.NewOutgoingCall("100", call.Options{Silent: true})

	assert.Equal(t, 2, env.manager.Count())

	found, ok := env.manager.Get(incoming.ID())
	require.True(t, ok)
	assert.Same(t, incoming, found)

	found, ok = env.manager.Get(outgoing.ID())
	require.True(t, ok)
	assert.Same(t, outgoing, found)
}

func TestManagerSingleActiveCall(t *testing.T) {
	env := newTestEnv()

	first := env.manager.NewOutgoingCall("100", call.Options{Active: true, Silent: true})
	second := env.manager.NewOutgoingCall("200", call.Options{Silent: true})

	active, ok := env.manager.Active()
	require.True(t, ok)
	assert.Same(t, first, active)

	env.manager.SetActive(second.ID())
	active, ok = env.manager.Active()
	require.True(t, ok)
	assert.Same(t, second, active)
}

func TestManagerDeleteCallClearsActive(t *testing.T) {
	env := newTestEnv()

	c := env.manager.NewOutgoingCall("100", call.Options{Active: true, Silent: true})
	env.manager.DeleteCall(c)

	assert.Zero(t, env.manager.Count())
	_, ok := env.manager.Active()
	assert.False(t, ok)
}

func TestManagerTerminateAll(t *testing.T) {
	env := newTestEnv()

	session := newMockSession("cid-m2")
	incoming := env.manager.OnIncomingSession(session, call.Options{Silent: true})
	require.NoError(t, incoming.Start(context.Background()))

	pending := env.manager.NewOutgoingCall("100", call.Options{Silent: true})

	env.manager.TerminateAll(context.Background())

	assert.Zero(t, env.manager.Count())
	assert.Equal(t, call.StatusRequestTerminated, incoming.Status())
	assert.Equal(t, call.StatusNew, pending.Status(), "вызов в new удаляется без смены статуса")
}
