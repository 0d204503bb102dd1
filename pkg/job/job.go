// Package job implements the construction job lifecycle.
//
// A Job moves Open -> Closed (worker selected, escrow funded) -> Submitted ->
// Paid, or, once its deadline has passed, through a dispute to
// ResolvedToWorker or ResolvedToContractor. Every transition runs all of its
// guards before writing any field, so a rejected call leaves the job as it
// was. Jobs carry no locks; callers serialize transitions per job.
package job

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

// Status is the derived lifecycle state.
type Status string

const (
	StatusOpen                 Status = "OPEN"
	StatusClosed               Status = "CLOSED"
	StatusSubmitted            Status = "SUBMITTED"
	StatusPaid                 Status = "PAID"
	StatusResolvedToWorker     Status = "RESOLVED_TO_WORKER"
	StatusResolvedToContractor Status = "RESOLVED_TO_CONTRACTOR"
)

// Outcome is the terminal marker. Empty until the job settles.
type Outcome string

const (
	OutcomeNone                 Outcome = ""
	OutcomePaid                 Outcome = "PAID"
	OutcomeResolvedToWorker     Outcome = "RESOLVED_TO_WORKER"
	OutcomeResolvedToContractor Outcome = "RESOLVED_TO_CONTRACTOR"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Job is one construction contract from posting to payout.
type Job struct {
	id             string
	contractor     identity.Address
	bids           map[identity.Address]*profile.WorkerProfile
	description    string
	projectType    string
	requiredSkills []string
	budget         int64
	escrow         escrow.Balance
	dispute        bool
	rating         *int
	biddingClosed  bool
	worker         identity.Address
	workSubmitted  bool
	outcome        Outcome
	createdAt      time.Time
	deadline       time.Time
}

// Params are the caller-supplied fields of a new job.
type Params struct {
	Description    string
	ProjectType    string
	RequiredSkills []string
	Budget         int64
	Duration       time.Duration
}

// DurationFromMillis converts a wire duration in milliseconds, rejecting
// values that do not fit a time.Duration.
func DurationFromMillis(ms int64) (time.Duration, error) {
	if ms <= 0 || ms > math.MaxInt64/int64(time.Millisecond) {
		return 0, fmt.Errorf("%w (got %dms)", ErrInvalidDuration, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// New creates an open job with deadline now+Duration.
func New(id string, contractor identity.Address, p Params, now time.Time) (*Job, error) {
	if contractor.IsZero() {
		return nil, fmt.Errorf("new job: %w", identity.ErrNoCaller)
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("new job: %w (got %s)", ErrInvalidDuration, p.Duration)
	}
	if p.Budget <= 0 {
		return nil, fmt.Errorf("new job: %w (got %d)", ErrInvalidBudget, p.Budget)
	}
	skills, err := profile.NormalizeSkills(p.RequiredSkills)
	if err != nil {
		return nil, fmt.Errorf("new job: %w", err)
	}

	return &Job{
		id:             id,
		contractor:     contractor,
		bids:           make(map[identity.Address]*profile.WorkerProfile),
		description:    p.Description,
		projectType:    p.ProjectType,
		requiredSkills: skills,
		budget:         p.Budget,
		createdAt:      now,
		deadline:       now.Add(p.Duration),
	}, nil
}

func (j *Job) ID() string                   { return j.id }
func (j *Job) Contractor() identity.Address { return j.contractor }
func (j *Job) Description() string          { return j.description }
func (j *Job) ProjectType() string          { return j.projectType }
func (j *Job) RequiredSkills() []string     { return slices.Clone(j.requiredSkills) }
func (j *Job) Budget() int64                { return j.budget }
func (j *Job) Escrow() int64                { return j.escrow.Amount() }
func (j *Job) Disputed() bool               { return j.dispute }
func (j *Job) BiddingClosed() bool          { return j.biddingClosed }
func (j *Job) Worker() identity.Address     { return j.worker }
func (j *Job) WorkSubmitted() bool          { return j.workSubmitted }
func (j *Job) Outcome() Outcome             { return j.outcome }
func (j *Job) CreatedAt() time.Time         { return j.createdAt }
func (j *Job) Deadline() time.Time          { return j.deadline }
func (j *Job) Settled() bool                { return j.outcome != OutcomeNone }

// Rating returns the post-completion rating, if any.
func (j *Job) Rating() (int, bool) {
	if j.rating == nil {
		return 0, false
	}
	return *j.rating, true
}

// Bidders returns the addresses with a pending bid, sorted.
func (j *Job) Bidders() []identity.Address {
	return slices.Sorted(maps.Keys(j.bids))
}

// Bid returns a copy of addr's pending profile.
func (j *Job) Bid(addr identity.Address) (*profile.WorkerProfile, bool) {
	p, ok := j.bids[addr]
	return p.Clone(), ok
}

// Status derives the lifecycle state from the job's fields.
func (j *Job) Status() Status {
	switch j.outcome {
	case OutcomePaid:
		return StatusPaid
	case OutcomeResolvedToWorker:
		return StatusResolvedToWorker
	case OutcomeResolvedToContractor:
		return StatusResolvedToContractor
	}
	switch {
	case !j.biddingClosed:
		return StatusOpen
	case j.workSubmitted:
		return StatusSubmitted
	default:
		return StatusClosed
	}
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.bids = make(map[identity.Address]*profile.WorkerProfile, len(j.bids))
	for k, v := range j.bids {
		c.bids[k] = v.Clone()
	}
	c.requiredSkills = slices.Clone(j.requiredSkills)
	if j.rating != nil {
		r := *j.rating
		c.rating = &r
	}
	return &c
}

// CheckInvariants reports the first violated structural invariant.
func (j *Job) CheckInvariants() error {
	switch {
	case !j.biddingClosed && !j.escrow.IsZero():
		return fmt.Errorf("job %s: escrow %d while open", j.id, j.escrow.Amount())
	case j.biddingClosed != !j.worker.IsZero():
		return fmt.Errorf("job %s: worker %q inconsistent with bidding closed=%t", j.id, j.worker, j.biddingClosed)
	case j.workSubmitted && j.worker.IsZero():
		return fmt.Errorf("job %s: work submitted with no worker", j.id)
	case j.Settled() && !j.escrow.IsZero():
		return fmt.Errorf("job %s: escrow %d after settlement", j.id, j.escrow.Amount())
	case j.biddingClosed && !j.Settled() && j.escrow.Amount() < j.budget:
		return fmt.Errorf("job %s: escrow %d below budget %d", j.id, j.escrow.Amount(), j.budget)
	}
	return nil
}

type jobJSON struct {
	ID             string                                      `json:"id"`
	Contractor     identity.Address                            `json:"contractor"`
	Bids           map[identity.Address]*profile.WorkerProfile `json:"bids"`
	Description    string                                      `json:"description"`
	ProjectType    string                                      `json:"project_type"`
	RequiredSkills []string                                    `json:"required_skills"`
	Budget         int64                                       `json:"budget"`
	Escrow         escrow.Balance                              `json:"escrow"`
	Dispute        bool                                        `json:"dispute"`
	Rating         *int                                        `json:"rating,omitempty"`
	BiddingClosed  bool                                        `json:"bidding_closed"`
	Worker         identity.Address                            `json:"worker,omitempty"`
	WorkSubmitted  bool                                        `json:"work_submitted"`
	Outcome        Outcome                                     `json:"outcome,omitempty"`
	Status         Status                                      `json:"status"`
	CreatedAt      time.Time                                   `json:"created_at"`
	Deadline       time.Time                                   `json:"deadline"`
}

func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:             j.id,
		Contractor:     j.contractor,
		Bids:           j.bids,
		Description:    j.description,
		ProjectType:    j.projectType,
		RequiredSkills: j.requiredSkills,
		Budget:         j.budget,
		Escrow:         j.escrow,
		Dispute:        j.dispute,
		Rating:         j.rating,
		BiddingClosed:  j.biddingClosed,
		Worker:         j.worker,
		WorkSubmitted:  j.workSubmitted,
		Outcome:        j.outcome,
		Status:         j.Status(),
		CreatedAt:      j.createdAt,
		Deadline:       j.deadline,
	})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Bids == nil {
		w.Bids = make(map[identity.Address]*profile.WorkerProfile)
	}
	*j = Job{
		id:             w.ID,
		contractor:     w.Contractor,
		bids:           w.Bids,
		description:    w.Description,
		projectType:    w.ProjectType,
		requiredSkills: w.RequiredSkills,
		budget:         w.Budget,
		escrow:         w.Escrow,
		dispute:        w.Dispute,
		rating:         w.Rating,
		biddingClosed:  w.BiddingClosed,
		worker:         w.Worker,
		workSubmitted:  w.WorkSubmitted,
		outcome:        w.Outcome,
		createdAt:      w.CreatedAt,
		deadline:       w.Deadline,
	}
	return nil
}

// authorize checks that c references this job.
func (j *Job) authorize(c *capability.JobCapability) error {
	if !c.Authorizes(j.id) {
		return fmt.Errorf("job %s: %w", j.id, ErrInvalidCapability)
	}
	return nil
}

func (j *Job) notSettled() error {
	if j.Settled() {
		return fmt.Errorf("job %s (%s): %w", j.id, j.outcome, ErrAlreadySettled)
	}
	return nil
}
