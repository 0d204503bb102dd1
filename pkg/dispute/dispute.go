// Package dispute records complaints against jobs and settles them under the
// admin capability.
package dispute

import (
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
)

// ErrComplaintMismatch is returned when a complaint is resolved against a job it does not reference.
var ErrComplaintMismatch = errors.New("complaint does not reference job")

// Complaint is a dispute filed against a job after its deadline.
type Complaint struct {
	ID         string           `json:"id"`
	JobID      string           `json:"job_id"`
	Complainer identity.Address `json:"complainer"`
	Worker     identity.Address `json:"worker"`
	Contractor identity.Address `json:"contractor"`
	Reason     string           `json:"reason"`
	Decision   bool             `json:"decision"`
	Resolved   bool             `json:"resolved"`
	FiledAt    time.Time        `json:"filed_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// File flags j as disputed on behalf of caller and returns the new complaint.
func File(id string, j *job.Job, caller identity.Address, reason string, now time.Time) (*Complaint, error) {
	if err := j.FlagDispute(caller, now); err != nil {
		return nil, err
	}
	return &Complaint{
		ID:         id,
		JobID:      j.ID(),
		Complainer: caller,
		Worker:     j.Worker(),
		Contractor: j.Contractor(),
		Reason:     reason,
		FiledAt:    now,
	}, nil
}

// Resolve settles j under admin. decision=true pays the complaint's worker,
// false refunds the contractor.
func Resolve(admin *capability.AdminCapability, j *job.Job, c *Complaint, decision bool, now time.Time) (job.Payout, error) {
	if admin == nil {
		return job.Payout{}, fmt.Errorf("resolve complaint: %w", capability.ErrInvalid)
	}
	if c.JobID != j.ID() {
		return job.Payout{}, fmt.Errorf("complaint %s references %s, not %s: %w", c.ID, c.JobID, j.ID(), ErrComplaintMismatch)
	}
	if c.Resolved {
		return job.Payout{}, fmt.Errorf("complaint %s: %w", c.ID, job.ErrAlreadySettled)
	}

	payout, err := j.SettleDispute(decision, c.Worker)
	if err != nil {
		return job.Payout{}, err
	}
	c.Decision = decision
	c.Resolved = true
	c.ResolvedAt = &now
	return payout, nil
}

// Clone returns a deep copy.
func (c *Complaint) Clone() *Complaint {
	out := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
