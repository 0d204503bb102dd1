// Package store makes jobs and draft worker profiles independently
// addressable by ID and mutable only through per-key serializable
// transactions.
package store

import (
	"context"
	"errors"
	"slices"

	"github.com/Mindburn-Labs/buildmarket/pkg/dispute"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	// ErrConflict is returned when a concurrent writer won the race for a key.
	ErrConflict = errors.New("concurrent update conflict")
)

// Record is the unit of storage for one job: the job and the complaints filed against it.
type Record struct {
	Job        *job.Job             `json:"job"`
	Complaints []*dispute.Complaint `json:"complaints"`
}

// Complaint returns the complaint with id.
func (r *Record) Complaint(id string) (*dispute.Complaint, bool) {
	for _, c := range r.Complaints {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := &Record{Job: r.Job.Clone(), Complaints: make([]*dispute.Complaint, 0, len(r.Complaints))}
	for _, c := range r.Complaints {
		out.Complaints = append(out.Complaints, c.Clone())
	}
	return out
}

// Store is the shared-object store.
//
// Update and Take callbacks receive a private copy. Their changes are
// committed only when they return nil. Backends may invoke a callback more
// than once, so it must not have side effects outside its argument.
type Store interface {
	CreateJob(ctx context.Context, rec *Record) error
	GetJob(ctx context.Context, id string) (*Record, error)
	UpdateJob(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
	ListJobs(ctx context.Context) ([]*Record, error)

	PutProfile(ctx context.Context, p *profile.WorkerProfile) error
	GetProfile(ctx context.Context, id string) (*profile.WorkerProfile, error)
	UpdateProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error)
	// TakeProfile removes and returns a profile once fn accepts it.
	TakeProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error)
}

func sortRecords(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int {
		if c := a.Job.CreatedAt().Compare(b.Job.CreatedAt()); c != 0 {
			return c
		}
		switch {
		case a.Job.ID() < b.Job.ID():
			return -1
		case a.Job.ID() > b.Job.ID():
			return 1
		}
		return 0
	})
}
