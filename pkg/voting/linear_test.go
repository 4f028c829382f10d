package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-labs/tally/pkg/campaign"
)

type staticLevels map[campaign.Account]uint8

func (s staticLevels) LevelOf(account campaign.Account) uint8 {
	return s[account]
}

func newLinear(t *testing.T, levels staticLevels) *Linear {
	t.Helper()
	ledger := campaign.NewLedger(campaign.Config{MinimumWindow: 10}, nil)
	return NewLinear(ledger, levels)
}

func TestWeightedSum(t *testing.T) {
	// Owner with level 10 disagrees, two level-5 owners agree:
	// -10 + 5 + 5 = 0, and a tie favors the status quo.
	v := newLinear(t, staticLevels{"big": 10, "small1": 5, "small2": 5})
	id, err := v.CreateCampaign(1000, 300)
	require.NoError(t, err)

	require.NoError(t, v.Vote(1001, id, "big", false))
	require.NoError(t, v.Vote(1002, id, "small1", true))
	require.NoError(t, v.Vote(1003, id, "small2", true))

	agreed, err := v.Result(1300, id)
	require.NoError(t, err)
	assert.False(t, agreed)
}

func TestMajorityWins(t *testing.T) {
	v := newLinear(t, staticLevels{"big": 10, "small": 5})
	id, err := v.CreateCampaign(1000, 300)
	require.NoError(t, err)

	require.NoError(t, v.Vote(1001, id, "big", true))
	require.NoError(t, v.Vote(1002, id, "small", false))

	agreed, err := v.Result(1300, id)
	require.NoError(t, err)
	assert.True(t, agreed)
}

func TestZeroLevelCannotVote(t *testing.T) {
	v := newLinear(t, staticLevels{"owner": 5})
	id, err := v.CreateCampaign(1000, 300)
	require.NoError(t, err)

	err = v.Vote(1001, id, "stranger", true)
	require.ErrorIs(t, err, ErrNoVotingPower)

	err = v.Vote(1001, id, "", true)
	require.ErrorIs(t, err, campaign.ErrInvalidAccount)
}

func TestDoubleVoteRejected(t *testing.T) {
	v := newLinear(t, staticLevels{"owner": 5})
	id, err := v.CreateCampaign(1000, 300)
	require.NoError(t, err)

	require.NoError(t, v.Vote(1001, id, "owner", true))
	err = v.Vote(1002, id, "owner", false)
	require.ErrorIs(t, err, campaign.ErrDuplicateParticipation)

	agreed, err := v.Result(1300, id)
	require.NoError(t, err)
	assert.True(t, agreed)
}
