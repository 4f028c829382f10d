// Package voting implements open linear-weighted voting on top of the
// campaign ledger. A vote's weight is the caller's access level,
// signed by agreement; the aggregate sign decides the outcome.
package voting

import (
	"errors"
	"fmt"

	"github.com/caldera-labs/tally/pkg/campaign"
)

// ErrNoVotingPower is returned when an account with access level zero
// attempts to vote.
var ErrNoVotingPower = errors.New("account has no voting power")

// LevelSource resolves an account's access level. Level zero means no
// access and no voting power.
type LevelSource interface {
	LevelOf(account campaign.Account) uint8
}

// Linear drives the campaign ledger with signed, level-weighted votes.
type Linear struct {
	ledger *campaign.Ledger
	levels LevelSource
}

// NewLinear creates the linear-voting extension.
func NewLinear(ledger *campaign.Ledger, levels LevelSource) *Linear {
	return &Linear{ledger: ledger, levels: levels}
}

// CreateCampaign opens a linear campaign with the given window.
func (v *Linear) CreateCampaign(now, window campaign.Tick) (campaign.ID, error) {
	return v.ledger.Create(now, window)
}

// Vote records a vote weighted by the caller's access level: +level
// for agreement, -level for disagreement. Accounts with level zero
// cannot vote.
func (v *Linear) Vote(now campaign.Tick, id campaign.ID, account campaign.Account, agree bool) error {
	if account.IsZero() {
		return campaign.ErrInvalidAccount
	}
	level := v.levels.LevelOf(account)
	if level == 0 {
		return fmt.Errorf("vote on campaign %d by %s: %w", id, account, ErrNoVotingPower)
	}
	weight := int64(level)
	if !agree {
		weight = -weight
	}
	return v.ledger.RecordVote(now, id, account, weight)
}

// Result returns whether the campaign agreed. Delegates the lazy,
// memoized computation to the ledger.
func (v *Linear) Result(now campaign.Tick, id campaign.ID) (bool, error) {
	res, err := v.ledger.ResultAt(now, id)
	if err != nil {
		return false, err
	}
	return res.Agreed, nil
}
