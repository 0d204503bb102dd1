package job

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

// Payout is a release of the full escrow to one address.
type Payout struct {
	To     identity.Address `json:"to"`
	Amount int64            `json:"amount"`
}

// PlaceBid files p as caller's bid. The profile must belong to caller.
func (j *Job) PlaceBid(caller identity.Address, p *profile.WorkerProfile) error {
	if err := j.notSettled(); err != nil {
		return err
	}
	if j.biddingClosed {
		return fmt.Errorf("job %s: %w", j.id, ErrJobClosed)
	}
	if caller.IsZero() {
		return fmt.Errorf("bid on job %s: %w", j.id, identity.ErrNoCaller)
	}
	if err := p.CheckOwner(caller); err != nil {
		return err
	}
	if _, ok := j.bids[caller]; ok {
		return fmt.Errorf("job %s, bidder %s: %w", j.id, caller, ErrDuplicateBid)
	}

	j.bids[caller] = p.Clone()
	return nil
}

// SelectWorker closes bidding, funds escrow with funded and returns the
// chosen bidder's profile. Other pending bids are left in place unselected.
func (j *Job) SelectWorker(c *capability.JobCapability, funded int64, chosen identity.Address) (*profile.WorkerProfile, error) {
	if err := j.authorize(c); err != nil {
		return nil, err
	}
	if err := j.notSettled(); err != nil {
		return nil, err
	}
	if j.biddingClosed {
		return nil, fmt.Errorf("job %s: %w", j.id, ErrJobClosed)
	}
	if funded < j.budget {
		return nil, fmt.Errorf("job %s: funded %d, budget %d: %w", j.id, funded, j.budget, ErrInsufficientFunds)
	}
	p, ok := j.bids[chosen]
	if !ok {
		return nil, fmt.Errorf("job %s, address %s: %w", j.id, chosen, ErrUnknownBidder)
	}

	if err := j.escrow.Deposit(funded); err != nil {
		return nil, err
	}
	delete(j.bids, chosen)
	j.biddingClosed = true
	j.worker = chosen
	return p, nil
}

// SubmitWork marks work submitted. Repeat submissions before confirmation are no-ops.
func (j *Job) SubmitWork(caller identity.Address, now time.Time) error {
	if !now.Before(j.deadline) {
		return fmt.Errorf("job %s: submit at %s, deadline %s: %w", j.id, now.Format(time.RFC3339Nano), j.deadline.Format(time.RFC3339Nano), ErrDeadlinePassed)
	}
	if err := j.notSettled(); err != nil {
		return err
	}
	if j.worker.IsZero() || caller != j.worker {
		return fmt.Errorf("job %s: %q is not the selected worker: %w", j.id, caller, ErrWrongCaller)
	}

	j.workSubmitted = true
	return nil
}

// ConfirmWork releases the full escrow to the worker. The job becomes Paid.
func (j *Job) ConfirmWork(c *capability.JobCapability) (Payout, error) {
	if err := j.authorize(c); err != nil {
		return Payout{}, err
	}
	if err := j.notSettled(); err != nil {
		return Payout{}, err
	}
	if !j.workSubmitted {
		return Payout{}, fmt.Errorf("job %s: %w", j.id, ErrWorkNotSubmitted)
	}

	amount := j.escrow.WithdrawAll()
	j.outcome = OutcomePaid
	return Payout{To: j.worker, Amount: amount}, nil
}

// FlagDispute marks the job disputed on behalf of caller, who must be the
// selected worker or the contractor.
func (j *Job) FlagDispute(caller identity.Address, now time.Time) error {
	if err := j.notSettled(); err != nil {
		return err
	}
	if !now.After(j.deadline) {
		return fmt.Errorf("job %s: complaint at %s, deadline %s: %w", j.id, now.Format(time.RFC3339Nano), j.deadline.Format(time.RFC3339Nano), ErrTooEarly)
	}
	if j.worker.IsZero() {
		return fmt.Errorf("job %s: %w", j.id, ErrNoWorker)
	}
	if caller.IsZero() || (caller != j.worker && caller != j.contractor) {
		return fmt.Errorf("job %s: %s is neither worker nor contractor: %w", j.id, caller, ErrWrongCaller)
	}

	j.dispute = true
	return nil
}

// SettleDispute releases the full escrow to worker when toWorker is set and
// to the contractor otherwise. Only the contractor branch clears the dispute
// flag; both branches are terminal.
func (j *Job) SettleDispute(toWorker bool, worker identity.Address) (Payout, error) {
	if err := j.notSettled(); err != nil {
		return Payout{}, err
	}
	if !j.dispute {
		return Payout{}, fmt.Errorf("job %s: %w", j.id, ErrNoDispute)
	}

	amount := j.escrow.WithdrawAll()
	if toWorker {
		j.outcome = OutcomeResolvedToWorker
		return Payout{To: worker, Amount: amount}, nil
	}
	j.dispute = false
	j.outcome = OutcomeResolvedToContractor
	return Payout{To: j.contractor, Amount: amount}, nil
}

// Rate attaches a rating to a paid job. A later rating replaces an earlier one.
func (j *Job) Rate(c *capability.JobCapability, rating int) error {
	if err := j.authorize(c); err != nil {
		return err
	}
	if j.outcome != OutcomePaid {
		return fmt.Errorf("job %s (%s): %w", j.id, j.Status(), ErrNotPaid)
	}
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("rating %d not in [%d,%d]: %w", rating, MinRating, MaxRating, ErrInvalidRating)
	}

	j.rating = &rating
	return nil
}
