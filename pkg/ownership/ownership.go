// Package ownership maps accounts to access levels and gates
// third-party mutations behind the governance engine. Level zero means
// no entry; level 255 is the maximum. Self-service changes (an owner
// transferring or renouncing its own entry) bypass governance;
// everything requested by a third party must pass a send/resolve pair.
//
// The directory holds a governor handle rather than inheriting engine
// behavior: capability is expressed as "has a request registry and a
// campaign ledger", by composition.
package ownership

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

// Canonical action names for gated mutations.
const (
	ActionAdd         = "ownership.add"
	ActionDelete      = "ownership.delete"
	ActionTransfer    = "ownership.transfer"
	ActionChangeLevel = "ownership.change_level"
)

var (
	ErrNoSuchOwnership = errors.New("account has no ownership entry")
	ErrAlreadyOwned    = errors.New("account already has an ownership entry")
	ErrInvalidLevel    = errors.New("level must be nonzero")
	ErrNotApproved     = errors.New("governance did not approve the mutation")
)

// Governor is the slice of the governance engine the directory
// consumes: the generic send/resolve gate.
type Governor interface {
	Send(now campaign.Tick, requester campaign.Account, name string, args []any, window campaign.Tick) (hashbind.Key, campaign.ID, error)
	Resolve(now campaign.Tick, name string, args []any, key hashbind.Key) (bool, error)
}

// Directory is the ownership store. All mutations serialize on a
// single mutex and are atomic: a failed precondition leaves the
// directory unchanged.
type Directory struct {
	mu       sync.Mutex
	levels   map[campaign.Account]uint8
	governor Governor
	log      *events.Log
}

// NewDirectory creates a directory seeded with the given entries.
// Zero-level seed entries are ignored.
func NewDirectory(governor Governor, log *events.Log, seed map[campaign.Account]uint8) *Directory {
	levels := make(map[campaign.Account]uint8)
	for account, level := range seed {
		if !account.IsZero() && level > 0 {
			levels[account] = level
		}
	}
	return &Directory{levels: levels, governor: governor, log: log}
}

// LevelOf returns the account's access level, zero if none. Satisfies
// the voting extension's LevelSource.
func (d *Directory) LevelOf(account campaign.Account) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[account]
}

// IsAtLeast reports whether the account holds at least the given level.
func (d *Directory) IsAtLeast(account campaign.Account, level uint8) bool {
	return d.LevelOf(account) >= level
}

// Owners returns the number of accounts with a nonzero level.
func (d *Directory) Owners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.levels)
}

// TransferOwnership moves the caller's own entry to newOwner,
// atomically zeroing the source and copying its level. Self-service:
// no governance involved.
func (d *Directory) TransferOwnership(now campaign.Tick, owner, newOwner campaign.Account) error {
	if owner.IsZero() || newOwner.IsZero() {
		return campaign.ErrInvalidAccount
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	level := d.levels[owner]
	if level == 0 {
		return fmt.Errorf("transfer from %s: %w", owner, ErrNoSuchOwnership)
	}
	if d.levels[newOwner] != 0 {
		return fmt.Errorf("transfer to %s: %w", newOwner, ErrAlreadyOwned)
	}

	delete(d.levels, owner)
	d.levels[newOwner] = level
	d.emit(now, "transfer", newOwner, map[string]any{
		"from":  string(owner),
		"to":    string(newOwner),
		"level": uint64(level),
	})
	return nil
}

// Renounce removes the caller's own entry. Self-service.
func (d *Directory) Renounce(now campaign.Tick, owner campaign.Account) error {
	if owner.IsZero() {
		return campaign.ErrInvalidAccount
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.levels[owner] == 0 {
		return fmt.Errorf("renounce %s: %w", owner, ErrNoSuchOwnership)
	}
	delete(d.levels, owner)
	d.emit(now, "renounce", owner, map[string]any{
		"account": string(owner),
	})
	return nil
}

// AddOwnershipRequest opens a governance vote to grant account the
// given level. The returned key must be presented to AddOwnership
// after the window elapses.
func (d *Directory) AddOwnershipRequest(now campaign.Tick, requester, account campaign.Account, level uint8, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	if account.IsZero() {
		return hashbind.Key{}, 0, campaign.ErrInvalidAccount
	}
	if level == 0 {
		return hashbind.Key{}, 0, fmt.Errorf("add %s: %w", account, ErrInvalidLevel)
	}
	if d.LevelOf(account) != 0 {
		return hashbind.Key{}, 0, fmt.Errorf("add %s: %w", account, ErrAlreadyOwned)
	}
	return d.governor.Send(now, requester, ActionAdd, addArgs(account, level), window)
}

// AddOwnership consumes the vote opened by AddOwnershipRequest and, if
// approved, grants the level. The directory precondition is checked
// before the request is consumed, so a failed check leaves the request
// pending and the key presentable again. A rejected vote returns
// ErrNotApproved, consumes the request and mutates nothing.
func (d *Directory) AddOwnership(now campaign.Tick, account campaign.Account, level uint8, key hashbind.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.levels[account] != 0 {
		return fmt.Errorf("add %s: %w", account, ErrAlreadyOwned)
	}
	// The registry serializes on its own mutex, so resolving under d.mu
	// keeps the precondition and the mutation atomic.
	agreed, err := d.governor.Resolve(now, ActionAdd, addArgs(account, level), key)
	if err != nil {
		return fmt.Errorf("add %s: %w", account, err)
	}
	if !agreed {
		return fmt.Errorf("add %s: %w", account, ErrNotApproved)
	}
	d.levels[account] = level
	d.emit(now, "add", account, map[string]any{
		"account": string(account),
		"level":   uint64(level),
	})
	return nil
}

// DeleteOwnershipRequest opens a governance vote to remove account's
// entry.
func (d *Directory) DeleteOwnershipRequest(now campaign.Tick, requester, account campaign.Account, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	if account.IsZero() {
		return hashbind.Key{}, 0, campaign.ErrInvalidAccount
	}
	if d.LevelOf(account) == 0 {
		return hashbind.Key{}, 0, fmt.Errorf("delete %s: %w", account, ErrNoSuchOwnership)
	}
	return d.governor.Send(now, requester, ActionDelete, deleteArgs(account), window)
}

// DeleteOwnership consumes the vote and, if approved, removes the
// entry. The precondition is checked before the request is consumed.
func (d *Directory) DeleteOwnership(now campaign.Tick, account campaign.Account, key hashbind.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.levels[account] == 0 {
		return fmt.Errorf("delete %s: %w", account, ErrNoSuchOwnership)
	}
	agreed, err := d.governor.Resolve(now, ActionDelete, deleteArgs(account), key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", account, err)
	}
	if !agreed {
		return fmt.Errorf("delete %s: %w", account, ErrNotApproved)
	}
	delete(d.levels, account)
	d.emit(now, "delete", account, map[string]any{
		"account": string(account),
	})
	return nil
}

// TransferOwnershipRequest opens a governance vote to move from's
// entry to to. Third-party variant of TransferOwnership.
func (d *Directory) TransferOwnershipRequest(now campaign.Tick, requester, from, to campaign.Account, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	if from.IsZero() || to.IsZero() {
		return hashbind.Key{}, 0, campaign.ErrInvalidAccount
	}
	if d.LevelOf(from) == 0 {
		return hashbind.Key{}, 0, fmt.Errorf("transfer from %s: %w", from, ErrNoSuchOwnership)
	}
	return d.governor.Send(now, requester, ActionTransfer, transferArgs(from, to), window)
}

// TransferOwnershipResolve consumes the vote and, if approved,
// performs the transfer. Both endpoint preconditions are checked
// before the request is consumed.
func (d *Directory) TransferOwnershipResolve(now campaign.Tick, from, to campaign.Account, key hashbind.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	level := d.levels[from]
	if level == 0 {
		return fmt.Errorf("transfer from %s: %w", from, ErrNoSuchOwnership)
	}
	if d.levels[to] != 0 {
		return fmt.Errorf("transfer to %s: %w", to, ErrAlreadyOwned)
	}
	agreed, err := d.governor.Resolve(now, ActionTransfer, transferArgs(from, to), key)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}
	if !agreed {
		return fmt.Errorf("transfer from %s: %w", from, ErrNotApproved)
	}
	delete(d.levels, from)
	d.levels[to] = level
	d.emit(now, "transfer", to, map[string]any{
		"from":  string(from),
		"to":    string(to),
		"level": uint64(level),
	})
	return nil
}

// ChangeLevelRequest opens a governance vote to set account's level.
func (d *Directory) ChangeLevelRequest(now campaign.Tick, requester, account campaign.Account, level uint8, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	if account.IsZero() {
		return hashbind.Key{}, 0, campaign.ErrInvalidAccount
	}
	if level == 0 {
		return hashbind.Key{}, 0, fmt.Errorf("change level of %s: %w", account, ErrInvalidLevel)
	}
	if d.LevelOf(account) == 0 {
		return hashbind.Key{}, 0, fmt.Errorf("change level of %s: %w", account, ErrNoSuchOwnership)
	}
	return d.governor.Send(now, requester, ActionChangeLevel, changeLevelArgs(account, level), window)
}

// ChangeLevel consumes the vote and, if approved, sets the new level.
// The precondition is checked before the request is consumed.
func (d *Directory) ChangeLevel(now campaign.Tick, account campaign.Account, level uint8, key hashbind.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.levels[account] == 0 {
		return fmt.Errorf("change level of %s: %w", account, ErrNoSuchOwnership)
	}
	agreed, err := d.governor.Resolve(now, ActionChangeLevel, changeLevelArgs(account, level), key)
	if err != nil {
		return fmt.Errorf("change level of %s: %w", account, err)
	}
	if !agreed {
		return fmt.Errorf("change level of %s: %w", account, ErrNotApproved)
	}
	d.levels[account] = level
	d.emit(now, "change_level", account, map[string]any{
		"account": string(account),
		"level":   uint64(level),
	})
	return nil
}

// Argument builders. Resolution re-derives the binding key from these,
// so the encodings must stay byte-stable.

func addArgs(account campaign.Account, level uint8) []any {
	return []any{string(account), uint64(level)}
}

func deleteArgs(account campaign.Account) []any {
	return []any{string(account)}
}

func transferArgs(from, to campaign.Account) []any {
	return []any{string(from), string(to)}
}

func changeLevelArgs(account campaign.Account, level uint8) []any {
	return []any{string(account), uint64(level)}
}

func (d *Directory) emit(now campaign.Tick, op string, subject campaign.Account, payload map[string]any) {
	if d.log == nil {
		return
	}
	payload["op"] = op
	_, _ = d.log.Append(uint64(now), events.EventOwnershipChanged, "owner/"+string(subject), payload)
}
