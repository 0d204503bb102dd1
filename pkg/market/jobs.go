package market

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/dispute"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

// CreateJob posts a job for the caller and mints its capability.
func (s *Service) CreateJob(ctx context.Context, p job.Params) (_ *job.Job, _ *capability.JobCapability, err error) {
	id := s.newID()
	ctx, caller, finish := s.track(ctx, "create_job", id)
	defer func() { finish(err) }()

	if caller.IsZero() {
		return nil, nil, identity.ErrNoCaller
	}
	j, err := job.New(id, caller, p, s.clock())
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.CreateJob(ctx, &store.Record{Job: j, Complaints: []*dispute.Complaint{}}); err != nil {
		return nil, nil, err
	}
	c, err := s.authority.MintJob(id)
	if err != nil {
		return nil, nil, err
	}

	s.record(ledger.EventJobCreated, id, caller, map[string]any{
		"budget":       j.Budget(),
		"project_type": j.ProjectType(),
		"deadline":     j.Deadline().UnixMilli(),
	})
	s.record(ledger.EventCapabilityMinted, id, caller, map[string]any{"kind": string(capability.KindJob)})
	s.logger.InfoContext(ctx, "job created", "job_id", id, "contractor", caller, "budget", j.Budget())
	return j, c, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*job.Job, error) {
	rec, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]*job.Job, error) {
	recs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Job)
	}
	return out, nil
}

// SelectWorker funds escrow from the caller's account and selects chosen.
// Held funds are returned if the transition does not commit.
func (s *Service) SelectWorker(ctx context.Context, c *capability.JobCapability, jobID string, funded int64, chosen identity.Address) (_ *profile.WorkerProfile, err error) {
	ctx, caller, finish := s.track(ctx, "select_worker", jobID)
	defer func() { finish(err) }()

	if err := s.authority.VerifyJob(c, jobID); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	if caller.IsZero() {
		return nil, identity.ErrNoCaller
	}

	// Dry run on a copy so guard failures never touch custody.
	rec, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := rec.Job.SelectWorker(c, funded, chosen); err != nil {
		return nil, err
	}

	if err := s.custody.Hold(ctx, caller, funded); err != nil {
		return nil, err
	}
	var selected *profile.WorkerProfile
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		p, err := r.Job.SelectWorker(c, funded, chosen)
		selected = p
		return err
	})
	if err != nil {
		s.refund(ctx, caller, funded, err)
		return nil, err
	}

	s.record(ledger.EventWorkerSelected, jobID, caller, map[string]any{"worker": chosen.String(), "funded": funded})
	s.logger.InfoContext(ctx, "worker selected", "job_id", jobID, "worker", chosen, "funded", funded)
	return selected, nil
}

func (s *Service) SubmitWork(ctx context.Context, jobID string) (err error) {
	ctx, caller, finish := s.track(ctx, "submit_work", jobID)
	defer func() { finish(err) }()

	now := s.clock()
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		return r.Job.SubmitWork(caller, now)
	})
	if err != nil {
		return err
	}

	s.record(ledger.EventWorkSubmitted, jobID, caller, nil)
	s.logger.InfoContext(ctx, "work submitted", "job_id", jobID, "worker", caller)
	return nil
}

// ConfirmWork pays the full escrow to the worker.
func (s *Service) ConfirmWork(ctx context.Context, c *capability.JobCapability, jobID string) (_ job.Payout, err error) {
	ctx, caller, finish := s.track(ctx, "confirm_work", jobID)
	defer func() { finish(err) }()

	if err := s.authority.VerifyJob(c, jobID); err != nil {
		return job.Payout{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	var payout job.Payout
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		p, err := r.Job.ConfirmWork(c)
		payout = p
		return err
	})
	if err != nil {
		return job.Payout{}, err
	}
	if err := s.pay(ctx, jobID, payout); err != nil {
		return payout, err
	}

	s.record(ledger.EventWorkConfirmed, jobID, caller, map[string]any{"to": payout.To.String(), "amount": payout.Amount})
	s.logger.InfoContext(ctx, "work confirmed", "job_id", jobID, "worker", payout.To, "amount", payout.Amount)
	return payout, nil
}

// RateWork attaches a 1..5 rating to a paid job.
func (s *Service) RateWork(ctx context.Context, c *capability.JobCapability, jobID string, rating int) (err error) {
	ctx, caller, finish := s.track(ctx, "rate_work", jobID)
	defer func() { finish(err) }()

	if err := s.authority.VerifyJob(c, jobID); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		return r.Job.Rate(c, rating)
	})
	if err != nil {
		return err
	}
	s.record(ledger.EventJobRated, jobID, caller, map[string]any{"rating": rating})
	return nil
}

// pay releases a committed payout from custody.
func (s *Service) pay(ctx context.Context, jobID string, p job.Payout) error {
	if err := s.custody.Release(ctx, p.To, p.Amount); err != nil {
		s.logger.ErrorContext(ctx, "payout release failed", "job_id", jobID, "to", p.To, "amount", p.Amount, "error", err)
		return fmt.Errorf("release payout for job %s: %w", jobID, err)
	}
	return nil
}
