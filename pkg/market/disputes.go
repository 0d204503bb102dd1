package market

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/dispute"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

// FileComplaint disputes a job after its deadline.
func (s *Service) FileComplaint(ctx context.Context, jobID, reason string) (_ *dispute.Complaint, err error) {
	ctx, caller, finish := s.track(ctx, "file_complaint", jobID)
	defer func() { finish(err) }()

	id, now := s.newID(), s.clock()
	var filed *dispute.Complaint
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		c, err := dispute.File(id, r.Job, caller, reason, now)
		if err != nil {
			return err
		}
		r.Complaints = append(r.Complaints, c)
		filed = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ledger.EventComplaintFiled, jobID, caller, map[string]any{"complaint_id": id})
	s.logger.InfoContext(ctx, "complaint filed", "job_id", jobID, "complaint_id", id, "complainer", caller)
	return filed, nil
}

// ResolveDispute settles a disputed job under the admin capability.
func (s *Service) ResolveDispute(ctx context.Context, admin *capability.AdminCapability, jobID, complaintID string, decision bool) (_ job.Payout, err error) {
	ctx, caller, finish := s.track(ctx, "resolve_dispute", jobID)
	defer func() { finish(err) }()

	if err := s.authority.VerifyAdmin(admin); err != nil {
		return job.Payout{}, fmt.Errorf("resolve dispute: %w", err)
	}
	now := s.clock()
	var payout job.Payout
	_, err = s.store.UpdateJob(ctx, jobID, func(r *store.Record) error {
		c, ok := r.Complaint(complaintID)
		if !ok {
			return fmt.Errorf("complaint %s: %w", complaintID, store.ErrNotFound)
		}
		p, err := dispute.Resolve(admin, r.Job, c, decision, now)
		payout = p
		return err
	})
	if err != nil {
		return job.Payout{}, err
	}
	if err := s.pay(ctx, jobID, payout); err != nil {
		return payout, err
	}

	s.record(ledger.EventDisputeResolved, jobID, caller, map[string]any{
		"complaint_id": complaintID,
		"decision":     decision,
		"to":           payout.To.String(),
		"amount":       payout.Amount,
	})
	s.logger.InfoContext(ctx, "dispute resolved", "job_id", jobID, "complaint_id", complaintID, "decision", decision, "to", payout.To)
	return payout, nil
}

func (s *Service) ListComplaints(ctx context.Context, jobID string) ([]*dispute.Complaint, error) {
	rec, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return rec.Complaints, nil
}
