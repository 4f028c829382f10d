// Package request implements the generic governance gate: a two-step
// send/resolve protocol that binds any named state mutation to a
// campaign via a content-derived key. The registry knows nothing about
// the semantics of the names and arguments it carries.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
)

var (
	ErrNoSuchRequest   = errors.New("no request stored under key")
	ErrAlreadyResolved = errors.New("request already resolved")
	ErrNameMismatch    = errors.New("presented name does not match stored request")
	ErrKeyMismatch     = errors.New("presented arguments do not re-derive the stored key")
	ErrDenied          = errors.New("request denied by admission policy")
)

// Request is a pending governance-gated action.
type Request struct {
	Name       string
	CampaignID campaign.ID
	Resolved   bool
}

// Guard admits or denies a request before its campaign opens.
// Implementations must be deterministic.
type Guard interface {
	Admit(requester campaign.Account, name string, window campaign.Tick, args []any) error
}

// Registry maps content-derived keys to one-shot requests. First
// writer wins per key; because the campaign id is bound into the key
// and is unique per creation, keys never collide across requests.
type Registry struct {
	mu       sync.Mutex
	requests map[hashbind.Key]*Request
	ledger   *campaign.Ledger
	catalog  *Catalog
	guard    Guard
	log      *events.Log
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalog attaches an action catalog; registered actions get their
// arguments schema-validated at send time.
func WithCatalog(c *Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithGuard attaches an admission guard evaluated at send time.
func WithGuard(g Guard) Option {
	return func(r *Registry) { r.guard = g }
}

// NewRegistry creates a registry backed by the given campaign ledger.
func NewRegistry(ledger *campaign.Ledger, log *events.Log, opts ...Option) *Registry {
	r := &Registry{
		requests: make(map[hashbind.Key]*Request),
		ledger:   ledger,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send opens a governance vote: it validates the arguments, creates a
// linear campaign with the supplied window, derives the binding key
// with resolved=false, and stores the request. The returned key must
// be presented back at resolution.
func (r *Registry) Send(now campaign.Tick, requester campaign.Account, name string, args []any, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	if r.catalog != nil {
		if err := r.catalog.Validate(name, args); err != nil {
			return hashbind.Key{}, 0, fmt.Errorf("send %q: %w", name, err)
		}
	}
	if r.guard != nil {
		if err := r.guard.Admit(requester, name, window, args); err != nil {
			return hashbind.Key{}, 0, fmt.Errorf("send %q: %w: %w", name, ErrDenied, err)
		}
	}
	// Reject unserializable arguments before the campaign is created so
	// a failed send leaves no orphan campaign behind.
	if _, err := json.Marshal(args); err != nil {
		return hashbind.Key{}, 0, fmt.Errorf("send %q: arguments not serializable: %w", name, err)
	}

	id, err := r.ledger.Create(now, window)
	if err != nil {
		return hashbind.Key{}, 0, fmt.Errorf("send %q: %w", name, err)
	}
	key, err := hashbind.Bind(name, uint64(id), false, args)
	if err != nil {
		return hashbind.Key{}, 0, fmt.Errorf("send %q: %w", name, err)
	}

	r.mu.Lock()
	r.requests[key] = &Request{Name: name, CampaignID: id}
	r.mu.Unlock()

	r.emit(now, events.EventRequestCreated, key, map[string]any{
		"name":        name,
		"campaign_id": uint64(id),
		"requester":   string(requester),
	})
	return key, id, nil
}

// Resolve consumes a vote result. The caller must present the exact
// name and arguments given to Send: the key is re-derived from the
// stored name and campaign id with resolved=false (its value at
// creation; the stored flag is never hashed) and the presented
// arguments, and any mismatch is rejected as tampering. On success the
// request flips to resolved, once and forever, and the campaign's
// result is returned.
func (r *Registry) Resolve(now campaign.Tick, name string, args []any, key hashbind.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[key]
	if !ok {
		return false, fmt.Errorf("resolve %q: %w", name, ErrNoSuchRequest)
	}
	if req.Resolved {
		return false, fmt.Errorf("resolve %q: %w", name, ErrAlreadyResolved)
	}
	if req.Name != name {
		return false, fmt.Errorf("resolve %q: stored name %q: %w", name, req.Name, ErrNameMismatch)
	}
	derived, err := hashbind.Bind(req.Name, uint64(req.CampaignID), false, args)
	if err != nil {
		return false, fmt.Errorf("resolve %q: %w", name, err)
	}
	if derived != key {
		return false, fmt.Errorf("resolve %q: %w", name, ErrKeyMismatch)
	}

	result, err := r.ledger.ResultAt(now, req.CampaignID)
	if err != nil {
		return false, fmt.Errorf("resolve %q: %w", name, err)
	}
	req.Resolved = true

	r.emit(now, events.EventRequestResolved, key, map[string]any{
		"name":        name,
		"campaign_id": uint64(req.CampaignID),
		"agreed":      result.Agreed,
	})
	return result.Agreed, nil
}

// Get returns a copy of the request stored under key.
func (r *Registry) Get(key hashbind.Key) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[key]
	if !ok {
		return Request{}, ErrNoSuchRequest
	}
	return *req, nil
}

// Count returns the number of requests ever created.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *Registry) emit(now campaign.Tick, t events.EventType, key hashbind.Key, payload map[string]any) {
	if r.log == nil {
		return
	}
	payload["key"] = key.String()
	_, _ = r.log.Append(uint64(now), t, "request/"+key.String(), payload)
}
