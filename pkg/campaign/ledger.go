package campaign

import (
	"fmt"
	"sync"

	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

// Config carries the globally enforced campaign parameters.
type Config struct {
	// MinimumWindow is the smallest duration, in ticks, any campaign
	// window (or commit/reveal phase) may have.
	MinimumWindow Tick
}

// Ledger owns the append-only campaign sequence. All mutating
// operations serialize on a single mutex; every public operation
// validates all preconditions before touching state, so a failed call
// leaves the ledger exactly as it was.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	campaigns []*Campaign
	log       *events.Log
}

// NewLedger creates an empty ledger. The event log may be nil, in
// which case no events are emitted.
func NewLedger(cfg Config, log *events.Log) *Ledger {
	return &Ledger{cfg: cfg, log: log}
}

// MinimumWindow returns the configured minimum window.
func (l *Ledger) MinimumWindow() Tick {
	return l.cfg.MinimumWindow
}

// Create opens a linear-voting campaign with the given window starting
// at now. Returns the new campaign id.
func (l *Ledger) Create(now, window Tick) (ID, error) {
	if window < l.cfg.MinimumWindow {
		return 0, fmt.Errorf("create campaign: window %d: %w", window, ErrBelowMinimumWindow)
	}

	l.mu.Lock()
	c := &Campaign{
		id:           ID(len(l.campaigns) + 1),
		kind:         KindLinear,
		startTick:    now,
		window:       window,
		participants: make(map[Account]*participant),
	}
	l.campaigns = append(l.campaigns, c)
	l.mu.Unlock()

	l.emit(now, events.EventCampaignCreated, c.id, map[string]any{
		"kind":       c.kind.String(),
		"start_tick": uint64(now),
		"window":     uint64(window),
	})
	return c.id, nil
}

// CreateCommitReveal opens a commit-reveal campaign. The commit phase
// runs [now, now+commitWindow); the reveal phase runs
// [now+commitWindow, now+commitWindow+revealWindow).
func (l *Ledger) CreateCommitReveal(now, commitWindow, revealWindow Tick) (ID, error) {
	if commitWindow < l.cfg.MinimumWindow {
		return 0, fmt.Errorf("create commit campaign: commit window %d: %w", commitWindow, ErrBelowMinimumWindow)
	}
	if revealWindow < l.cfg.MinimumWindow {
		return 0, fmt.Errorf("create commit campaign: reveal window %d: %w", revealWindow, ErrBelowMinimumWindow)
	}

	l.mu.Lock()
	c := &Campaign{
		id:           ID(len(l.campaigns) + 1),
		kind:         KindCommitReveal,
		startTick:    now,
		commitWindow: commitWindow,
		revealWindow: revealWindow,
		participants: make(map[Account]*participant),
	}
	l.campaigns = append(l.campaigns, c)
	l.mu.Unlock()

	l.emit(now, events.EventCampaignCreated, c.id, map[string]any{
		"kind":          c.kind.String(),
		"start_tick":    uint64(now),
		"commit_window": uint64(commitWindow),
		"reveal_window": uint64(revealWindow),
	})
	return c.id, nil
}

// RecordVote appends a signed, weighted vote for account to a linear
// campaign. Each account may vote at most once.
func (l *Ledger) RecordVote(now Tick, id ID, account Account, weight int64) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.get(id)
	if err != nil {
		return err
	}
	if c.kind != KindLinear {
		return fmt.Errorf("record vote on campaign %d: %w", id, ErrWrongKind)
	}
	if c.ended {
		return fmt.Errorf("record vote on campaign %d: %w", id, ErrCampaignEnded)
	}
	if now >= c.expiry() {
		return fmt.Errorf("record vote on campaign %d at tick %d: %w", id, now, ErrWindowExpired)
	}
	p := c.participants[account]
	if p != nil && p.voted {
		return fmt.Errorf("record vote on campaign %d by %s: %w", id, account, ErrDuplicateParticipation)
	}

	c.participants[account] = &participant{voted: true}
	c.weights = append(c.weights, weight)

	l.emit(now, events.EventVoteRecorded, id, map[string]any{
		"account": string(account),
		"weight":  weight,
	})
	return nil
}

// RecordCommitment stores account's commitment hash during the commit
// phase of a commit-reveal campaign.
func (l *Ledger) RecordCommitment(now Tick, id ID, account Account, commitment hashbind.Key) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}
	if commitment.IsZero() {
		return fmt.Errorf("record commitment on campaign %d: %w", id, ErrZeroCommitment)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.get(id)
	if err != nil {
		return err
	}
	if c.kind != KindCommitReveal {
		return fmt.Errorf("record commitment on campaign %d: %w", id, ErrWrongKind)
	}
	if c.ended {
		return fmt.Errorf("record commitment on campaign %d: %w", id, ErrCampaignEnded)
	}
	if now >= c.commitExpiry() {
		return fmt.Errorf("record commitment on campaign %d at tick %d: %w", id, now, ErrWindowExpired)
	}
	if _, exists := c.participants[account]; exists {
		return fmt.Errorf("record commitment on campaign %d by %s: %w", id, account, ErrDuplicateParticipation)
	}

	c.participants[account] = &participant{commitment: commitment}

	l.emit(now, events.EventCommitmentRecorded, id, map[string]any{
		"account":    string(account),
		"commitment": commitment.String(),
	})
	return nil
}

// RecordReveal verifies and appends account's revealed secret during
// the reveal phase. The seed must be the one the same account bound
// into its commitment; a global shared seed would break per-participant
// linkage and is deliberately not supported.
func (l *Ledger) RecordReveal(now Tick, id ID, account Account, secret int64, seed uint64) error {
	if account.IsZero() {
		return ErrInvalidAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.get(id)
	if err != nil {
		return err
	}
	if c.kind != KindCommitReveal {
		return fmt.Errorf("record reveal on campaign %d: %w", id, ErrWrongKind)
	}
	p := c.participants[account]
	if p == nil || p.commitment.IsZero() {
		return fmt.Errorf("record reveal on campaign %d by %s: %w", id, account, ErrNoPriorCommitment)
	}
	if c.ended {
		return fmt.Errorf("record reveal on campaign %d: %w", id, ErrCampaignEnded)
	}
	if now < c.commitExpiry() {
		return fmt.Errorf("record reveal on campaign %d at tick %d: %w", id, now, ErrTooEarly)
	}
	if now >= c.expiry() {
		return fmt.Errorf("record reveal on campaign %d at tick %d: %w", id, now, ErrWindowExpired)
	}
	if p.revealed {
		return fmt.Errorf("record reveal on campaign %d by %s: %w", id, account, ErrAlreadyRevealed)
	}
	if hashbind.Commitment(secret, seed) != p.commitment {
		return fmt.Errorf("record reveal on campaign %d by %s: %w", id, account, ErrSecretMismatch)
	}

	p.revealed = true
	c.secrets = append(c.secrets, secret)

	l.emit(now, events.EventRevealRecorded, id, map[string]any{
		"account": string(account),
		"secret":  secret,
	})
	return nil
}

// ResultAt returns the campaign result. For an ended campaign this is
// the cached value, with no side effect. Otherwise it fails with
// ErrNotYetExpired until the window has elapsed; the first call after
// expiry computes the aggregate once, marks the campaign ended, caches
// the result and emits a result event. All later calls return the same
// value forever.
func (l *Ledger) ResultAt(now Tick, id ID) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.get(id)
	if err != nil {
		return Result{}, err
	}
	if c.ended {
		return c.result, nil
	}
	if now < c.expiry() {
		return Result{}, fmt.Errorf("result of campaign %d at tick %d: %w", id, now, ErrNotYetExpired)
	}

	switch c.kind {
	case KindLinear:
		var sum int64
		for _, w := range c.weights {
			sum += w
		}
		// Tie favors the status quo: sum == 0 resolves to disagree.
		c.result = Result{Agreed: sum > 0}
	case KindCommitReveal:
		var sum int64
		var agg uint64
		for _, s := range c.secrets {
			sum += s
			agg ^= uint64(s)
		}
		c.result = Result{Agreed: sum > 0, Value: agg}
	}
	c.ended = true

	l.emit(now, events.EventResultComputed, id, map[string]any{
		"agreed": c.result.Agreed,
		"value":  c.result.Value,
	})
	return c.result, nil
}

// Get returns a read-only view of a campaign.
func (l *Ledger) Get(id ID) (*Campaign, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(id)
}

// Count returns the number of campaigns ever created.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.campaigns)
}

func (l *Ledger) get(id ID) (*Campaign, error) {
	if id == 0 || uint64(id) > uint64(len(l.campaigns)) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNoSuchCampaign)
	}
	return l.campaigns[id-1], nil
}

// emit appends an observable event. Safe to call with or without l.mu
// held; the log has its own lock. Handlers run synchronously and must
// not call back into the ledger.
func (l *Ledger) emit(now Tick, t events.EventType, id ID, payload map[string]any) {
	if l.log == nil {
		return
	}
	payload["campaign_id"] = uint64(id)
	_, _ = l.log.Append(uint64(now), t, fmt.Sprintf("campaign/%d", id), payload)
}
