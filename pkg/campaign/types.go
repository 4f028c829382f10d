// Package campaign owns the append-only sequence of voting and
// commitment campaigns. Each campaign has a fixed tick window,
// aggregates per-participant input exactly once per participant, and
// computes its result lazily, exactly once, after the window closes.
package campaign

import (
	"errors"

	"github.com/caldera-labs/tally/pkg/hashbind"
)

// Tick is the externally supplied monotonic counter used as the only
// notion of time inside the engine. It is never derived from a clock;
// every time-sensitive operation takes the current tick as a parameter.
type Tick uint64

// ID identifies a campaign. IDs are sequential and 1-based.
type ID uint64

// Account identifies a participant. The empty value is invalid.
type Account string

// IsZero reports whether the account is the invalid zero value.
func (a Account) IsZero() bool {
	return a == ""
}

// Kind distinguishes the two campaign disciplines.
type Kind int

const (
	// KindLinear campaigns collect open, signed, level-weighted votes.
	KindLinear Kind = iota
	// KindCommitReveal campaigns collect hash commitments during a
	// commit window, then pre-image reveals during a reveal window.
	KindCommitReveal
)

func (k Kind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	case KindCommitReveal:
		return "commit_reveal"
	default:
		return "unknown"
	}
}

// Result is the cached outcome of an ended campaign.
//
// Linear campaigns set only Agreed (signed weight sum > 0). Ended
// commit-reveal campaigns set both: Agreed is the signed sum of
// revealed secrets > 0 (anti-cheat voting) and Value is the XOR of all
// revealed secrets (randomness aggregation). Ties resolve to disagree.
type Result struct {
	Agreed bool
	Value  uint64
}

// Rejection sentinels. Every precondition failure aborts the whole
// operation with no state change.
var (
	ErrNoSuchCampaign         = errors.New("no such campaign")
	ErrWrongKind              = errors.New("operation does not match campaign kind")
	ErrBelowMinimumWindow     = errors.New("window below configured minimum")
	ErrCampaignEnded          = errors.New("campaign already ended")
	ErrWindowExpired          = errors.New("participation window expired")
	ErrDuplicateParticipation = errors.New("account already participated")
	ErrZeroCommitment         = errors.New("commitment hash is zero")
	ErrNoPriorCommitment      = errors.New("no commitment recorded for account")
	ErrTooEarly               = errors.New("reveal attempted during commit phase")
	ErrAlreadyRevealed        = errors.New("account already revealed")
	ErrSecretMismatch         = errors.New("revealed secret does not match commitment")
	ErrNotYetExpired          = errors.New("campaign window has not yet elapsed")
	ErrInvalidAccount         = errors.New("invalid zero account")
)

// participant tracks per-account progress inside one campaign. Vote
// weights and revealed secrets live in campaign-owned append-only
// sequences, not here, so an account appears at most once per sequence.
type participant struct {
	voted      bool
	commitment hashbind.Key
	revealed   bool
}

// Campaign is one time-boxed governance decision instance.
type Campaign struct {
	id           ID
	kind         Kind
	startTick    Tick
	window       Tick // linear: full window
	commitWindow Tick // commit-reveal only
	revealWindow Tick // commit-reveal only
	participants map[Account]*participant
	weights      []int64 // linear votes, append-only
	secrets      []int64 // revealed secrets, append-only
	ended        bool
	result       Result
}

// ID returns the campaign id.
func (c *Campaign) ID() ID { return c.id }

// Kind returns the campaign discipline.
func (c *Campaign) Kind() Kind { return c.kind }

// StartTick returns the creation tick.
func (c *Campaign) StartTick() Tick { return c.startTick }

// Ended reports whether the result has been computed and cached.
func (c *Campaign) Ended() bool { return c.ended }

// Participants returns the number of accounts that have participated.
func (c *Campaign) Participants() int { return len(c.participants) }

// expiry is the first tick at which participation is no longer valid
// and the result may be computed.
func (c *Campaign) expiry() Tick {
	if c.kind == KindCommitReveal {
		return c.startTick + c.commitWindow + c.revealWindow
	}
	return c.startTick + c.window
}

// commitExpiry is the first tick of the reveal phase.
func (c *Campaign) commitExpiry() Tick {
	return c.startTick + c.commitWindow
}
