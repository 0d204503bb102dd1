// Package market runs marketplace operations: it resolves the caller, checks
// capabilities, executes the job transition inside a per-job store
// transaction, moves funds through custody and records the result.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
	"github.com/Mindburn-Labs/buildmarket/pkg/observability"
	"github.com/Mindburn-Labs/buildmarket/pkg/policy"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

// ErrCustodyMismatch is returned by CheckCustody when held funds and job escrow disagree.
var ErrCustodyMismatch = errors.New("custody total does not match job escrow")

// Service is safe for concurrent use.
type Service struct {
	store     store.Store
	custody   escrow.Custody
	authority *capability.Authority
	ledger    *ledger.Ledger
	policy    *policy.BidPolicy
	obs       *observability.Provider
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func WithLedger(l *ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithBidPolicy(p *policy.BidPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator overrides UUID generation for job, profile and complaint IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func New(st store.Store, custody escrow.Custody, authority *capability.Authority, opts ...Option) *Service {
	s := &Service{
		store:     st,
		custody:   custody,
		authority: authority,
		ledger:    ledger.New(),
		obs:       observability.Disabled(),
		logger:    slog.Default().With("component", "market"),
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Authority() *capability.Authority { return s.authority }
func (s *Service) Ledger() *ledger.Ledger           { return s.ledger }

// track opens telemetry for one operation and resolves the caller.
func (s *Service) track(ctx context.Context, op, jobID string) (context.Context, identity.Address, func(error)) {
	caller, _ := identity.CallerFrom(ctx)
	ctx, finish := s.obs.TrackOperation(ctx, "market."+op, observability.JobAttrs(jobID, caller.String())...)
	return ctx, caller, func(err error) {
		if err != nil {
			s.logger.DebugContext(ctx, "operation rejected", "op", op, "job_id", jobID, "caller", caller, "error", err)
		}
		finish(err)
	}
}

func (s *Service) record(eventType, jobID string, author identity.Address, data map[string]any) {
	if _, err := s.ledger.Append(eventType, jobID, author.String(), data); err != nil {
		s.logger.Error("ledger append failed", "event", eventType, "job_id", jobID, "error", err)
	}
}

// refund returns held funds after a transition that did not commit.
func (s *Service) refund(ctx context.Context, to identity.Address, amount int64, cause error) {
	if err := s.custody.Release(ctx, to, amount); err != nil {
		s.logger.ErrorContext(ctx, "refund after failed transition did not complete",
			"to", to, "amount", amount, "cause", cause, "error", err)
	}
}

// CheckCustody verifies that custody holds exactly the sum of job escrow balances.
func (s *Service) CheckCustody(ctx context.Context) error {
	recs, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	var sum int64
	for _, r := range recs {
		sum += r.Job.Escrow()
	}
	held, err := s.custody.Held(ctx)
	if err != nil {
		return err
	}
	if held != sum {
		return fmt.Errorf("%w: held %d, escrow %d", ErrCustodyMismatch, held, sum)
	}
	return nil
}
