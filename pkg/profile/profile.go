// Package profile defines the worker profile a candidate prepares before
// bidding on a job.
package profile

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

var (
	// ErrInvalidSkill is returned for empty or duplicate skill tags.
	ErrInvalidSkill = errors.New("invalid skill")
	// ErrDuplicateSkill is returned when a skill is already in the set.
	ErrDuplicateSkill = fmt.Errorf("duplicate skill: %w", ErrInvalidSkill)
	// ErrNotOwner is returned when someone other than the owner edits or bids a profile.
	ErrNotOwner = errors.New("caller does not own profile")
)

// WorkerProfile is a candidate's declared description and skills.
// Skills keep insertion order and never repeat.
type WorkerProfile struct {
	ID          string           `json:"id"`
	Owner       identity.Address `json:"owner"`
	JobID       string           `json:"job_id"`
	Description string           `json:"description"`
	Skills      []string         `json:"skills"`
	CreatedAt   time.Time        `json:"created_at"`
}

// New creates a detached profile owned by owner that references jobID.
func New(id string, owner identity.Address, jobID, description string, now time.Time) (*WorkerProfile, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("new profile: %w", identity.ErrNoCaller)
	}
	return &WorkerProfile{
		ID:          id,
		Owner:       owner,
		JobID:       jobID,
		Description: description,
		Skills:      []string{},
		CreatedAt:   now,
	}, nil
}

// NormalizeSkill trims, NFC-normalises and lower-cases a skill tag.
func NormalizeSkill(skill string) (string, error) {
	s := strings.ToLower(norm.NFC.String(strings.TrimSpace(skill)))
	if s == "" {
		return "", fmt.Errorf("%w: empty tag", ErrInvalidSkill)
	}
	return s, nil
}

// NormalizeSkills normalises a list into an ordered-unique set.
func NormalizeSkills(skills []string) ([]string, error) {
	out := make([]string, 0, len(skills))
	for _, raw := range skills {
		s, err := NormalizeSkill(raw)
		if err != nil {
			return nil, err
		}
		if slices.Contains(out, s) {
			return nil, fmt.Errorf("%q: %w", s, ErrDuplicateSkill)
		}
		out = append(out, s)
	}
	return out, nil
}

// AddSkill inserts skill into the profile's set.
func (p *WorkerProfile) AddSkill(skill string) error {
	s, err := NormalizeSkill(skill)
	if err != nil {
		return err
	}
	if slices.Contains(p.Skills, s) {
		return fmt.Errorf("%q: %w", s, ErrDuplicateSkill)
	}
	p.Skills = append(p.Skills, s)
	return nil
}

// HasSkill reports whether the normalised form of skill is present.
func (p *WorkerProfile) HasSkill(skill string) bool {
	s, err := NormalizeSkill(skill)
	return err == nil && slices.Contains(p.Skills, s)
}

// CheckOwner returns ErrNotOwner unless addr owns the profile.
func (p *WorkerProfile) CheckOwner(addr identity.Address) error {
	if addr.IsZero() || p.Owner != addr {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotOwner)
	}
	return nil
}

// Clone returns a deep copy.
func (p *WorkerProfile) Clone() *WorkerProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Skills = slices.Clone(p.Skills)
	return &c
}
