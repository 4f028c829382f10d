// Package beacon produces pseudo-random numbers from commit-reveal
// campaigns: the XOR of all revealed secrets, mixed with a locally
// incrementing entropy counter hashed with the current tick.
//
// This is the simple commit-reveal beacon pattern, with its known
// weaknesses intact: a participant who sees others' reveals can grief
// by withholding their own, and a dominant last revealer can bias the
// aggregate. It is not a VRF and must not be treated as
// manipulation-resistant randomness.
package beacon

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/commitreveal"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

// ErrZeroBound is returned when a bounded draw is requested with n == 0.
var ErrZeroBound = errors.New("draw bound must be positive")

// Beacon draws numbers from ended commit-reveal campaigns.
type Beacon struct {
	mu      sync.Mutex
	ext     *commitreveal.Extension
	counter uint64
}

// New creates a beacon over the given commit-reveal extension.
func New(ext *commitreveal.Extension) *Beacon {
	return &Beacon{ext: ext}
}

// Draw returns a pseudo-random number for the campaign: the cached XOR
// aggregate of revealed secrets, XORed with a digest of the local
// counter and the current tick. The counter increments on every draw,
// so successive draws from the same campaign differ even though the
// campaign's cached aggregate never changes.
func (b *Beacon) Draw(now campaign.Tick, id campaign.ID) (uint64, error) {
	agg, err := b.ext.Aggregate(now, id)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.counter++
	counter := b.counter
	b.mu.Unlock()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], counter)
	binary.BigEndian.PutUint64(buf[8:], uint64(now))
	mix := hashbind.Digest(buf[:])
	return agg ^ binary.BigEndian.Uint64(mix[:8]), nil
}

// DrawN returns a draw reduced to [0, n). A zero bound is rejected
// before the counter advances.
func (b *Beacon) DrawN(now campaign.Tick, id campaign.ID, n uint64) (uint64, error) {
	if n == 0 {
		return 0, ErrZeroBound
	}
	v, err := b.Draw(now, id)
	if err != nil {
		return 0, err
	}
	return v % n, nil
}

// Counter returns the number of draws performed so far.
func (b *Beacon) Counter() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter
}
