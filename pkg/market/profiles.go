package market

import (
	"context"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

// CreateWorkerProfile creates a detached profile owned by the caller.
func (s *Service) CreateWorkerProfile(ctx context.Context, jobID, description string) (_ *profile.WorkerProfile, err error) {
	ctx, caller, finish := s.track(ctx, "create_profile", jobID)
	defer func() { finish(err) }()

	p, err := profile.New(s.newID(), caller, jobID, description, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.store.PutProfile(ctx, p); err != nil {
		return nil, err
	}
	s.record(ledger.EventProfileCreated, jobID, caller, map[string]any{"profile_id": p.ID})
	return p, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (*profile.WorkerProfile, error) {
	return s.store.GetProfile(ctx, id)
}

// AddSkill adds a skill to one of the caller's detached profiles.
func (s *Service) AddSkill(ctx context.Context, profileID, skill string) (_ *profile.WorkerProfile, err error) {
	ctx, caller, finish := s.track(ctx, "add_skill", "")
	defer func() { finish(err) }()

	p, err := s.store.UpdateProfile(ctx, profileID, func(p *profile.WorkerProfile) error {
		if err := p.CheckOwner(caller); err != nil {
			return err
		}
		return p.AddSkill(skill)
	})
	if err != nil {
		return nil, err
	}
	s.record(ledger.EventSkillAdded, p.JobID, caller, map[string]any{"profile_id": p.ID, "skill": p.Skills[len(p.Skills)-1]})
	return p, nil
}

// BidWork moves the caller's profile into the job's bidder mapping.
func (s *Service) BidWork(ctx context.Context, jobID, profileID string) (err error) {
	ctx, caller, finish := s.track(ctx, "bid_work", jobID)
	defer func() { finish(err) }()

	if caller.IsZero() {
		return identity.ErrNoCaller
	}
	rec, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	p, err := s.store.TakeProfile(ctx, profileID, func(p *profile.WorkerProfile) error {
		if err := s.policy.Admit(rec.Job, p); err != nil {
			return err
		}
		return rec.Job.Clone().PlaceBid(caller, p)
	})
	if err != nil {
		return err
	}

	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		return r.Job.PlaceBid(caller, p)
	})
	if err != nil {
		// The bid did not land; give the profile back to its owner.
		if putErr := s.store.PutProfile(ctx, p); putErr != nil {
			s.logger.ErrorContext(ctx, "failed to restore profile after rejected bid", "profile_id", p.ID, "error", putErr)
		}
		return err
	}

	s.record(ledger.EventBidPlaced, jobID, caller, map[string]any{"profile_id": p.ID})
	s.logger.InfoContext(ctx, "bid placed", "job_id", jobID, "bidder", caller)
	return nil
}
