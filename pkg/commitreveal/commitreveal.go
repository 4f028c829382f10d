// Package commitreveal implements the two-phase commit-then-reveal
// protocol on top of the campaign ledger. Participants first publish a
// hash commitment, then reveal the pre-image after the commit window
// closes, so later participants cannot be influenced by earlier
// values. The same primitive serves anti-cheat voting (signed sum of
// revealed secrets) and randomness aggregation (XOR of revealed
// secrets).
package commitreveal

import (
	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

// Extension drives commit-reveal campaigns.
type Extension struct {
	ledger *campaign.Ledger
}

// New creates the commit-reveal extension.
func New(ledger *campaign.Ledger) *Extension {
	return &Extension{ledger: ledger}
}

// CreateCampaign opens a commit-reveal campaign. The campaign moves
// from the commit phase to the reveal phase implicitly by tick
// comparison; no explicit transition call exists.
func (e *Extension) CreateCampaign(now, commitWindow, revealWindow campaign.Tick) (campaign.ID, error) {
	return e.ledger.CreateCommitReveal(now, commitWindow, revealWindow)
}

// Commitment derives the hash a participant publishes during the
// commit phase. The seed is chosen by the participant and must be
// presented again, unchanged, at reveal time.
func Commitment(secret int64, seed uint64) hashbind.Key {
	return hashbind.Commitment(secret, seed)
}

// Commit records account's commitment hash.
func (e *Extension) Commit(now campaign.Tick, id campaign.ID, account campaign.Account, commitment hashbind.Key) error {
	return e.ledger.RecordCommitment(now, id, account, commitment)
}

// Reveal presents the pre-image of a prior commitment. Fails with
// campaign.ErrSecretMismatch unless Commitment(secret, seed) equals
// the hash the same account committed.
func (e *Extension) Reveal(now campaign.Tick, id campaign.ID, account campaign.Account, secret int64, seed uint64) error {
	return e.ledger.RecordReveal(now, id, account, secret, seed)
}

// Outcome returns the anti-cheat voting result: true iff the signed
// sum of revealed secrets is positive. Ties resolve to false.
func (e *Extension) Outcome(now campaign.Tick, id campaign.ID) (bool, error) {
	res, err := e.ledger.ResultAt(now, id)
	if err != nil {
		return false, err
	}
	return res.Agreed, nil
}

// Aggregate returns the XOR of all revealed secrets, computed lazily
// and cached by the ledger once both windows have closed.
func (e *Extension) Aggregate(now campaign.Tick, id campaign.ID) (uint64, error) {
	res, err := e.ledger.ResultAt(now, id)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}
