package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *campaign.Ledger, *events.Log) {
	t.Helper()
	log := events.NewLog()
	ledger := campaign.NewLedger(campaign.Config{MinimumWindow: 10}, log)
	return NewRegistry(ledger, log, opts...), ledger, log
}

func TestSendResolveRoundTrip(t *testing.T) {
	r, ledger, log := newTestRegistry(t)
	args := []any{"acct-1", uint64(7)}

	key, id, err := r.Send(1000, "requester", "ownership.add", args, 300)
	require.NoError(t, err)
	assert.Equal(t, campaign.ID(1), id)
	assert.False(t, key.IsZero())
	assert.Len(t, log.Query(events.EventRequestCreated), 1)

	require.NoError(t, ledger.RecordVote(1001, id, "alice", 5))

	agreed, err := r.Resolve(1300, "ownership.add", args, key)
	require.NoError(t, err)
	assert.True(t, agreed)
	assert.Len(t, log.Query(events.EventRequestResolved), 1)
}

func TestResolveRejectsTamperedArguments(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	args := []any{"acct-1", uint64(7)}

	key, _, err := r.Send(1000, "requester", "ownership.add", args, 300)
	require.NoError(t, err)

	// Single changed argument: KeyMismatch.
	_, err = r.Resolve(1300, "ownership.add", []any{"acct-1", uint64(8)}, key)
	require.ErrorIs(t, err, ErrKeyMismatch)

	// Different name: NameMismatch before any key work.
	_, err = r.Resolve(1300, "ownership.delete", args, key)
	require.ErrorIs(t, err, ErrNameMismatch)

	// Unknown key.
	_, err = r.Resolve(1300, "ownership.add", args, hashbind.Key{0x01})
	require.ErrorIs(t, err, ErrNoSuchRequest)

	// The request survives all rejections and still resolves cleanly.
	agreed, err := r.Resolve(1300, "ownership.add", args, key)
	require.NoError(t, err)
	assert.False(t, agreed)
}

func TestResolveAtMostOnce(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	args := []any{"acct-1"}

	key, _, err := r.Send(1000, "requester", "ownership.delete", args, 300)
	require.NoError(t, err)

	_, err = r.Resolve(1300, "ownership.delete", args, key)
	require.NoError(t, err)

	_, err = r.Resolve(1300, "ownership.delete", args, key)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveBeforeExpiry(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	args := []any{"acct-1"}

	key, _, err := r.Send(1000, "requester", "ownership.delete", args, 300)
	require.NoError(t, err)

	_, err = r.Resolve(1299, "ownership.delete", args, key)
	require.ErrorIs(t, err, campaign.ErrNotYetExpired)

	// The failed early resolve does not consume the request.
	_, err = r.Resolve(1300, "ownership.delete", args, key)
	require.NoError(t, err)
}

func TestSendRespectsMinimumWindow(t *testing.T) {
	r, ledger, _ := newTestRegistry(t)

	_, _, err := r.Send(1000, "requester", "op", nil, 5)
	require.ErrorIs(t, err, campaign.ErrBelowMinimumWindow)
	assert.Equal(t, 0, ledger.Count())
	assert.Equal(t, 0, r.Count())
}

func TestSameActionDifferentCampaignsDifferentKeys(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	args := []any{"acct-1"}

	k1, _, err := r.Send(1000, "requester", "op", args, 300)
	require.NoError(t, err)
	k2, _, err := r.Send(1000, "requester", "op", args, 300)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Equal(t, 2, r.Count())
}

type denyAllGuard struct{}

func (denyAllGuard) Admit(campaign.Account, string, campaign.Tick, []any) error {
	return errors.New("nope")
}

func TestGuardDeniesSend(t *testing.T) {
	r, ledger, _ := newTestRegistry(t, WithGuard(denyAllGuard{}))

	_, _, err := r.Send(1000, "requester", "op", nil, 300)
	require.ErrorIs(t, err, ErrDenied)
	assert.Equal(t, 0, ledger.Count())
}

func TestSendRejectsUnserializableArgs(t *testing.T) {
	r, ledger, _ := newTestRegistry(t)

	_, _, err := r.Send(1000, "requester", "op", []any{make(chan int)}, 300)
	require.Error(t, err)
	// No orphan campaign is left behind.
	assert.Equal(t, 0, ledger.Count())
}
