// Package engine composes the governance primitives into one facade:
// the request gate, the campaign ledger, both voting disciplines, the
// random beacon and the ownership directory. Consumers hold an Engine
// value; capability is expressed by composition, not inheritance.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caldera-labs/tally/pkg/beacon"
	"github.com/caldera-labs/tally/pkg/campaign"
	"github.com/caldera-labs/tally/pkg/commitreveal"
	"github.com/caldera-labs/tally/pkg/config"
	"github.com/caldera-labs/tally/pkg/events"
	"github.com/caldera-labs/tally/pkg/hashbind"
	"github.com/caldera-labs/tally/pkg/observability"
	"github.com/caldera-labs/tally/pkg/ownership"
	"github.com/caldera-labs/tally/pkg/policy"
	"github.com/caldera-labs/tally/pkg/request"
	"github.com/caldera-labs/tally/pkg/store"
	"github.com/caldera-labs/tally/pkg/voting"
)

// Engine is the assembled governance engine.
type Engine struct {
	cfg          *config.Config
	log          *events.Log
	ledger       *campaign.Ledger
	registry     *request.Registry
	linear       *voting.Linear
	commitReveal *commitreveal.Extension
	beacon       *beacon.Beacon
	directory    *ownership.Directory
	obs          *observability.Provider
	store        *store.SQLiteStore
}

// Option configures the engine.
type Option func(*options)

type options struct {
	catalog    *request.Catalog
	guard      request.Guard
	seedOwners map[campaign.Account]uint8
	obs        *observability.Provider
	store      *store.SQLiteStore
}

// WithCatalog installs an action catalog for argument validation.
func WithCatalog(c *request.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithGuard installs an admission guard evaluated at send time.
func WithGuard(g request.Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithSeedOwners seeds the ownership directory. Without seed owners no
// account can vote, so no gated mutation can ever pass.
func WithSeedOwners(seed map[campaign.Account]uint8) Option {
	return func(o *options) { o.seedOwners = seed }
}

// WithObservability attaches a telemetry provider.
func WithObservability(p *observability.Provider) Option {
	return func(o *options) { o.obs = p }
}

// WithStore attaches a SQLite projection fed from the event log.
func WithStore(s *store.SQLiteStore) Option {
	return func(o *options) { o.store = s }
}

// New assembles an engine from configuration.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Load()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := events.NewLog()
	ledger := campaign.NewLedger(campaign.Config{
		MinimumWindow: campaign.Tick(cfg.MinimumWindow),
	}, log)

	var regOpts []request.Option
	if o.catalog != nil {
		regOpts = append(regOpts, request.WithCatalog(o.catalog))
	}
	if o.guard != nil {
		regOpts = append(regOpts, request.WithGuard(o.guard))
	}
	registry := request.NewRegistry(ledger, log, regOpts...)

	e := &Engine{
		cfg:      cfg,
		log:      log,
		ledger:   ledger,
		registry: registry,
	}
	e.directory = ownership.NewDirectory(e, log, o.seedOwners)
	e.linear = voting.NewLinear(ledger, e.directory)
	e.commitReveal = commitreveal.New(ledger)
	e.beacon = beacon.New(e.commitReveal)

	if o.obs == nil && cfg.TelemetryEnabled {
		oc := observability.DefaultConfig()
		oc.OTLPEndpoint = cfg.OTLPEndpoint
		p, err := observability.New(context.Background(), oc)
		if err != nil {
			slog.Warn("engine: telemetry unavailable", "endpoint", cfg.OTLPEndpoint, "error", err)
		} else {
			o.obs = p
		}
	}
	e.obs = o.obs

	if o.store == nil && cfg.StoreDSN != "" {
		s, err := store.Open(cfg.StoreDSN)
		if err != nil {
			slog.Warn("engine: projection store unavailable", "dsn", cfg.StoreDSN, "error", err)
		} else {
			o.store = s
		}
	}
	if o.store != nil {
		o.store.Attach(log)
		e.store = o.store
	}
	return e
}

// FromProfile assembles an engine from a governance profile: window
// overrides, seed owners, per-action argument schemas and CEL admission
// rules all come from the profile. Explicit options still apply and win
// over the profile's.
func FromProfile(cfg *config.Config, profile *config.Profile, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	profile.Apply(cfg)

	var profileOpts []Option
	if len(profile.SeedOwners) > 0 {
		seed := make(map[campaign.Account]uint8, len(profile.SeedOwners))
		for account, level := range profile.SeedOwners {
			seed[campaign.Account(account)] = level
		}
		profileOpts = append(profileOpts, WithSeedOwners(seed))
	}
	if len(profile.ActionSchemas) > 0 {
		catalog := request.NewCatalog()
		for name, schema := range profile.ActionSchemas {
			if err := catalog.Register(name, schema); err != nil {
				return nil, fmt.Errorf("profile %q: %w", profile.Code, err)
			}
		}
		profileOpts = append(profileOpts, WithCatalog(catalog))
	}
	var rules *policy.Set
	if len(profile.AdmissionRules) > 0 {
		set, err := policy.NewSet()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", profile.Code, err)
		}
		for name, expr := range profile.AdmissionRules {
			if err := set.Add(name, expr); err != nil {
				return nil, fmt.Errorf("profile %q: %w", profile.Code, err)
			}
		}
		rules = set
		profileOpts = append(profileOpts, WithGuard(set))
	}

	e := New(cfg, append(profileOpts, opts...)...)
	if rules != nil {
		rules.WithLevels(e.directory)
	}
	return e, nil
}

// Send opens a governance vote for the named action. A zero window is
// replaced by the configured confirmation interval. Implements the
// ownership directory's Governor.
func (e *Engine) Send(now campaign.Tick, requester campaign.Account, name string, args []any, window campaign.Tick) (hashbind.Key, campaign.ID, error) {
	ctx, span := e.startSpan("tally.send", attribute.String("action", name))
	defer span.End()

	if window == 0 {
		window = campaign.Tick(e.cfg.ConfirmationInterval)
	}
	key, id, err := e.registry.Send(now, requester, name, args, window)
	if err != nil {
		e.recordRejection(ctx, span, err)
		return key, id, err
	}
	if e.obs != nil {
		e.obs.RecordCampaignCreated(ctx, campaign.KindLinear.String())
	}
	return key, id, nil
}

// Resolve consumes a vote result for the named action.
func (e *Engine) Resolve(now campaign.Tick, name string, args []any, key hashbind.Key) (bool, error) {
	ctx, span := e.startSpan("tally.resolve", attribute.String("action", name))
	defer span.End()

	agreed, err := e.registry.Resolve(now, name, args, key)
	if err != nil {
		e.recordRejection(ctx, span, err)
		return false, err
	}
	if e.obs != nil {
		e.obs.RecordResult(ctx)
	}
	return agreed, nil
}

// CreateCampaign opens a standalone linear campaign. A zero window is
// replaced by the configured confirmation interval.
func (e *Engine) CreateCampaign(now, window campaign.Tick) (campaign.ID, error) {
	ctx, span := e.startSpan("tally.create_campaign")
	defer span.End()

	if window == 0 {
		window = campaign.Tick(e.cfg.ConfirmationInterval)
	}
	id, err := e.linear.CreateCampaign(now, window)
	if err != nil {
		e.recordRejection(ctx, span, err)
		return 0, err
	}
	if e.obs != nil {
		e.obs.RecordCampaignCreated(ctx, campaign.KindLinear.String())
	}
	return id, nil
}

// Vote casts a level-weighted vote on a linear campaign.
func (e *Engine) Vote(now campaign.Tick, id campaign.ID, account campaign.Account, agree bool) error {
	ctx, span := e.startSpan("tally.vote", attribute.Int64("campaign", int64(id)))
	defer span.End()

	if err := e.linear.Vote(now, id, account, agree); err != nil {
		e.recordRejection(ctx, span, err)
		return err
	}
	if e.obs != nil {
		e.obs.RecordVote(ctx)
	}
	return nil
}

// ResultAt returns (computing and caching if necessary) a campaign's
// result.
func (e *Engine) ResultAt(now campaign.Tick, id campaign.ID) (campaign.Result, error) {
	ctx, span := e.startSpan("tally.result_at", attribute.Int64("campaign", int64(id)))
	defer span.End()

	res, err := e.ledger.ResultAt(now, id)
	if err != nil {
		e.recordRejection(ctx, span, err)
		return campaign.Result{}, err
	}
	if e.obs != nil {
		e.obs.RecordResult(ctx)
	}
	return res, nil
}

// CreateCommitCampaign opens a commit-reveal campaign. Zero windows
// are replaced by the configured confirmation interval.
func (e *Engine) CreateCommitCampaign(now, commitWindow, revealWindow campaign.Tick) (campaign.ID, error) {
	ctx, span := e.startSpan("tally.create_commit_campaign")
	defer span.End()

	if commitWindow == 0 {
		commitWindow = campaign.Tick(e.cfg.ConfirmationInterval)
	}
	if revealWindow == 0 {
		revealWindow = campaign.Tick(e.cfg.ConfirmationInterval)
	}
	id, err := e.commitReveal.CreateCampaign(now, commitWindow, revealWindow)
	if err != nil {
		e.recordRejection(ctx, span, err)
		return 0, err
	}
	if e.obs != nil {
		e.obs.RecordCampaignCreated(ctx, campaign.KindCommitReveal.String())
	}
	return id, nil
}

// Commit records a commitment hash on a commit-reveal campaign.
func (e *Engine) Commit(now campaign.Tick, id campaign.ID, account campaign.Account, commitment hashbind.Key) error {
	ctx, span := e.startSpan("tally.commit", attribute.Int64("campaign", int64(id)))
	defer span.End()

	if err := e.commitReveal.Commit(now, id, account, commitment); err != nil {
		e.recordRejection(ctx, span, err)
		return err
	}
	if e.obs != nil {
		e.obs.RecordCommitment(ctx)
	}
	return nil
}

// Reveal presents the pre-image of a prior commitment.
func (e *Engine) Reveal(now campaign.Tick, id campaign.ID, account campaign.Account, secret int64, seed uint64) error {
	ctx, span := e.startSpan("tally.reveal", attribute.Int64("campaign", int64(id)))
	defer span.End()

	if err := e.commitReveal.Reveal(now, id, account, secret, seed); err != nil {
		e.recordRejection(ctx, span, err)
		return err
	}
	if e.obs != nil {
		e.obs.RecordReveal(ctx)
	}
	return nil
}

// Draw produces a pseudo-random number from an ended commit-reveal
// campaign via the beacon.
func (e *Engine) Draw(now campaign.Tick, id campaign.ID) (uint64, error) {
	return e.beacon.Draw(now, id)
}

// ConfirmationInterval returns the default campaign window in ticks.
func (e *Engine) ConfirmationInterval() campaign.Tick {
	return campaign.Tick(e.cfg.ConfirmationInterval)
}

// MinimumWindow returns the smallest allowed campaign window in ticks.
func (e *Engine) MinimumWindow() campaign.Tick {
	return e.ledger.MinimumWindow()
}

// Ownership returns the ownership directory gated by this engine.
func (e *Engine) Ownership() *ownership.Directory {
	return e.directory
}

// Events returns the observable event log.
func (e *Engine) Events() *events.Log {
	return e.log
}

// Ledger returns the campaign ledger.
func (e *Engine) Ledger() *campaign.Ledger {
	return e.ledger
}

// CommitReveal returns the commit-reveal extension.
func (e *Engine) CommitReveal() *commitreveal.Extension {
	return e.commitReveal
}

// Beacon returns the random beacon.
func (e *Engine) Beacon() *beacon.Beacon {
	return e.beacon
}

// Store returns the attached projection store, nil if none.
func (e *Engine) Store() *store.SQLiteStore {
	return e.store
}

func (e *Engine) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.obs == nil {
		return context.Background(), trace.SpanFromContext(context.Background())
	}
	return e.obs.StartSpan(context.Background(), name, trace.WithAttributes(attrs...))
}

func (e *Engine) recordRejection(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	if e.obs != nil {
		e.obs.RecordRejection(ctx, err)
	}
}
