package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/config"
	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
	"github.com/caldera-labs/tally/pkg/ownership"
	"github.com/caldera-labs/tally/pkg/policy"
	"github.com/caldera-labs/tally/pkg/request"
	"github.com/caldera-labs/tally/pkg/voting"
)

func testConfig() *config.Config {
	return &config.Config{MinimumWindow: 10, ConfirmationInterval: 100}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSeedOwners(map[campaign.Account]uint8{
		"alice": 10,
		"bob":   5,
	})}, opts...)
	return New(testConfig(), opts...)
}

func TestGatedOwnershipEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	dir := e.Ownership()

	key, id, err := dir.AddOwnershipRequest(1000, "bob", "carol", 7, 300)
	require.NoError(t, err)

	require.NoError(t, e.Vote(1001, id, "alice", true))
	require.NoError(t, e.Vote(1002, id, "bob", true))

	// Votes after the window has elapsed are rejected.
	err = e.Vote(1300, id, "alice", true)
	require.ErrorIs(t, err, campaign.ErrWindowExpired)

	require.NoError(t, dir.AddOwnership(1300, "carol", 7, key))
	assert.Equal(t, uint8(7), dir.LevelOf("carol"))

	// Carol can now vote with her new level.
	cid, err := e.CreateCampaign(1301, 300)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1302, cid, "carol", true))
}

func TestDefaultWindowSubstitution(t *testing.T) {
	e := newTestEngine(t)

	// Window zero means "use the confirmation interval": the campaign
	// expires exactly interval ticks after creation.
	id, err := e.CreateCampaign(1000, 0)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1001, id, "alice", true))

	_, err = e.ResultAt(1099, id)
	require.ErrorIs(t, err, campaign.ErrNotYetExpired)

	res, err := e.ResultAt(1100, id)
	require.NoError(t, err)
	assert.True(t, res.Agreed)
}

func TestSendResolveRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	key, id, err := e.Send(1000, "alice", "treasury.spend", []any{uint64(250)}, 0)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1001, id, "alice", true))

	agreed, err := e.Resolve(1100, "treasury.spend", []any{uint64(250)}, key)
	require.NoError(t, err)
	assert.True(t, agreed)

	_, err = e.Resolve(1101, "treasury.spend", []any{uint64(250)}, key)
	require.ErrorIs(t, err, request.ErrAlreadyResolved)
}

func TestCommitRevealAndBeacon(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.CreateCommitCampaign(1000, 0, 0)
	require.NoError(t, err)

	require.NoError(t, e.Commit(1010, id, "alice", hashbind.Commitment(41, 7)))
	require.NoError(t, e.Commit(1020, id, "bob", hashbind.Commitment(12, 8)))

	// Reveals open once the commit phase ends at 1100.
	err = e.Reveal(1099, id, "alice", 41, 7)
	require.ErrorIs(t, err, campaign.ErrTooEarly)
	require.NoError(t, e.Reveal(1100, id, "alice", 41, 7))
	require.NoError(t, e.Reveal(1110, id, "bob", 12, 8))

	_, err = e.Draw(1199, id)
	require.ErrorIs(t, err, campaign.ErrNotYetExpired)

	first, err := e.Draw(1200, id)
	require.NoError(t, err)
	second, err := e.Draw(1200, id)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(2), e.Beacon().Counter())
}

func TestUnownedAccountsCannotVote(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.CreateCampaign(1000, 300)
	require.NoError(t, err)

	err = e.Vote(1001, id, "mallory", true)
	require.ErrorIs(t, err, voting.ErrNoVotingPower)

	err = e.Vote(1001, id, "", true)
	require.ErrorIs(t, err, campaign.ErrInvalidAccount)
}

func TestGuardedEngine(t *testing.T) {
	set, err := policy.NewSet()
	require.NoError(t, err)
	require.NoError(t, set.Add("owners-only", "requester_level > 0"))

	e := newTestEngine(t, WithGuard(set))
	set.WithLevels(e.Ownership())

	_, _, err = e.Send(1000, "alice", "treasury.spend", nil, 0)
	require.NoError(t, err)

	_, _, err = e.Send(1000, "mallory", "treasury.spend", nil, 0)
	require.ErrorIs(t, err, request.ErrDenied)
}

func TestCatalogedEngine(t *testing.T) {
	catalog := request.NewCatalog()
	require.NoError(t, catalog.Register("treasury.spend", `{
		"type": "array",
		"prefixItems": [{"type": "integer", "minimum": 1}],
		"minItems": 1,
		"maxItems": 1,
		"items": false
	}`))

	e := newTestEngine(t, WithCatalog(catalog))

	_, _, err := e.Send(1000, "alice", "treasury.spend", []any{uint64(250)}, 0)
	require.NoError(t, err)

	_, _, err = e.Send(1000, "alice", "treasury.spend", []any{uint64(0)}, 0)
	require.ErrorIs(t, err, request.ErrSchemaViolation)
}

func TestRejectedResolveConsumesRequest(t *testing.T) {
	e := newTestEngine(t)
	dir := e.Ownership()

	key, id, err := dir.AddOwnershipRequest(1000, "bob", "carol", 7, 300)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1001, id, "alice", false))

	err = dir.AddOwnership(1300, "carol", 7, key)
	require.ErrorIs(t, err, ownership.ErrNotApproved)
	assert.Equal(t, uint8(0), dir.LevelOf("carol"))

	// The request was consumed by the rejected resolution.
	err = dir.AddOwnership(1301, "carol", 7, key)
	require.ErrorIs(t, err, request.ErrAlreadyResolved)
}

func TestEngineEmitsChainedEvents(t *testing.T) {
	e := newTestEngine(t)

	id, err := e.CreateCampaign(1000, 300)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1001, id, "alice", true))
	_, err = e.ResultAt(1300, id)
	require.NoError(t, err)

	log := e.Events()
	assert.Equal(t, 3, log.Length())
	ok, detail := log.Verify()
	assert.True(t, ok, detail)
	assert.Len(t, log.Query(events.EventVoteRecorded), 1)
}

func TestStoreProjectionFromDSN(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDSN = "file:" + filepath.Join(t.TempDir(), "tally.db")

	e := New(cfg, WithSeedOwners(map[campaign.Account]uint8{"alice": 10}))
	s := e.Store()
	require.NotNil(t, s)
	t.Cleanup(func() { _ = s.Close() })

	id, err := e.CreateCampaign(1000, 300)
	require.NoError(t, err)
	require.NoError(t, e.Vote(1001, id, "alice", true))
	_, err = e.ResultAt(1300, id)
	require.NoError(t, err)

	row, err := s.Campaign(context.Background(), uint64(id))
	require.NoError(t, err)
	assert.True(t, row.Ended)
	require.NoError(t, s.Err())
}

func TestDefaultsFromConfig(t *testing.T) {
	e := New(nil)
	assert.Equal(t, campaign.Tick(100), e.ConfirmationInterval())
	assert.Equal(t, campaign.Tick(10), e.MinimumWindow())

	// Telemetry stays off unless the config enables it.
	assert.Nil(t, e.obs)
}

func TestFromProfile(t *testing.T) {
	profile := &config.Profile{
		Name:                 "Fast Testnet",
		Code:                 "testnet",
		MinimumWindow:        5,
		ConfirmationInterval: 50,
		SeedOwners:           map[string]uint8{"alice": 10},
		ActionSchemas: map[string]string{
			"treasury.spend": `{
				"type": "array",
				"prefixItems": [{"type": "integer", "minimum": 1}],
				"minItems": 1,
				"maxItems": 1,
				"items": false
			}`,
		},
		AdmissionRules: map[string]string{
			"owners-only": "requester_level > 0",
		},
	}

	e, err := FromProfile(testConfig(), profile)
	require.NoError(t, err)

	assert.Equal(t, campaign.Tick(5), e.MinimumWindow())
	assert.Equal(t, campaign.Tick(50), e.ConfirmationInterval())
	assert.Equal(t, uint8(10), e.Ownership().LevelOf("alice"))

	// Seeded owners pass the admission rule; strangers are denied.
	_, _, err = e.Send(1000, "alice", "treasury.spend", []any{uint64(250)}, 0)
	require.NoError(t, err)
	_, _, err = e.Send(1000, "mallory", "treasury.spend", []any{uint64(250)}, 0)
	require.ErrorIs(t, err, request.ErrDenied)

	// The profile's schema binds the action's arguments.
	_, _, err = e.Send(1000, "alice", "treasury.spend", []any{uint64(0)}, 0)
	require.ErrorIs(t, err, request.ErrSchemaViolation)
}

func TestFromProfileBadSchema(t *testing.T) {
	_, err := FromProfile(testConfig(), &config.Profile{
		Code:          "broken",
		ActionSchemas: map[string]string{"x": `{"type":`},
	})
	require.Error(t, err)
}

func TestFromProfileBadRule(t *testing.T) {
	_, err := FromProfile(testConfig(), &config.Profile{
		Code:           "broken",
		AdmissionRules: map[string]string{"x": "window +"},
	})
	require.Error(t, err)
}
