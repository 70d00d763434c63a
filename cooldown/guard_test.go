package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merova/confidential-batch-backend/interfaces"
)

var (
	actorA, _ = interfaces.NewAccountAddressFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	actorB, _ = interfaces.NewAccountAddressFromHex("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestGuard(window time.Duration) (*Guard, *time.Time) {
	now := time.Unix(1000, 0)
	g := NewGuard(func() time.Duration { return window }).WithClock(func() time.Time { return now })
	return g, &now
}

func TestCommittedReservationStartsWindow(t *testing.T) {
	g, now := newTestGuard(time.Minute)

	res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()

	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.ErrorIs(t, err, interfaces.ErrCooldownActive)

	*now = now.Add(time.Minute)
	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.NoError(t, err)
}

func TestDiscardedReservationDoesNotConsumeSlot(t *testing.T) {
	g, _ := newTestGuard(time.Minute)

	res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Discard()

	// The failed operation left the window untouched.
	res, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()
}

func TestWindowsAreIndependentPerActorAndAction(t *testing.T) {
	g, _ := newTestGuard(time.Minute)

	res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()

	// Another actor and another action class are unaffected.
	res, err = g.CheckAndReserve(actorB, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()

	res, err = g.CheckAndReserve(actorA, interfaces.ActionDecryptRequest)
	require.NoError(t, err)
	res.Commit()

	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.ErrorIs(t, err, interfaces.ErrCooldownActive)
}

func TestWindowChangeTakesEffectImmediately(t *testing.T) {
	window := time.Hour
	now := time.Unix(1000, 0)
	g := NewGuard(func() time.Duration { return window }).WithClock(func() time.Time { return now })

	res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()

	now = now.Add(time.Minute)
	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.ErrorIs(t, err, interfaces.ErrCooldownActive)

	// Shrinking the window frees actors whose last action is older than the
	// new window.
	window = 30 * time.Second
	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.NoError(t, err)
}

func TestZeroWindowDisablesRateLimit(t *testing.T) {
	g, _ := newTestGuard(0)

	for i := 0; i < 3; i++ {
		res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
		require.NoError(t, err)
		res.Commit()
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	g, _ := newTestGuard(time.Minute)

	res, err := g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	require.NoError(t, err)
	res.Commit()
	res.Commit()
	res.Discard() // settled, must not clear the recorded timestamp

	_, err = g.CheckAndReserve(actorA, interfaces.ActionSubmit)
	assert.ErrorIs(t, err, interfaces.ErrCooldownActive)

	last, ok := g.LastAction(actorA, interfaces.ActionSubmit)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1000, 0), last)
}
