// Package capability mints and checks the unforgeable tokens that gate
// privileged marketplace operations.
//
// A JobCapability proves "I am the contractor who created job J"; an
// AdminCapability proves "I hold the dispute authority of this system".
// Both are handed out as pointers and must not be copied. Their presence is
// checked by comparing the embedded job or system identifier, and their
// origin by an HMAC keyed from the Authority seed.
package capability

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrInvalid is returned when a capability is missing, forged or
	// references a different job or system.
	ErrInvalid = errors.New("invalid capability")
	// ErrAlreadyMinted is returned when a capability would be minted twice.
	ErrAlreadyMinted = errors.New("capability already minted")
)

// Kind distinguishes the two capability families.
type Kind string

const (
	KindJob   Kind = "job"
	KindAdmin Kind = "admin"
)

// noCopy makes `go vet` flag accidental copies of capability values.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// JobCapability authorizes worker selection, confirmation and rating on one job.
type JobCapability struct {
	_        noCopy
	jobID    string
	systemID string
	mac      []byte
}

// JobID returns the job this capability references.
func (c *JobCapability) JobID() string {
	if c == nil {
		return ""
	}
	return c.jobID
}

// Authorizes reports whether c references jobID. It is a structural check
// only; Authority.VerifyJob also checks the token origin.
func (c *JobCapability) Authorizes(jobID string) bool {
	return c != nil && c.jobID != "" && c.jobID == jobID
}

// AdminCapability authorizes dispute resolution for a whole system.
type AdminCapability struct {
	_        noCopy
	systemID string
	mac      []byte
}

// SystemID returns the system this capability was minted for.
func (c *AdminCapability) SystemID() string {
	if c == nil {
		return ""
	}
	return c.systemID
}

// Authority is the single minting point for capabilities of one system.
type Authority struct {
	mu          sync.Mutex
	keys        *Keyring
	systemID    string
	minted      map[string]struct{}
	adminMinted bool
	logger      *slog.Logger
}

// NewAuthority creates an authority from a keyring.
func NewAuthority(keys *Keyring) *Authority {
	return &Authority{
		keys:     keys,
		systemID: keys.SystemID(),
		minted:   make(map[string]struct{}),
		logger:   slog.Default().With("component", "capability"),
	}
}

// WithLogger overrides the logger used to record issuance.
func (a *Authority) WithLogger(l *slog.Logger) *Authority {
	a.logger = l
	return a
}

// SystemID identifies the system this authority mints for.
func (a *Authority) SystemID() string {
	return a.systemID
}

// MintJob mints the one capability for jobID.
func (a *Authority) MintJob(jobID string) (*JobCapability, error) {
	if jobID == "" {
		return nil, fmt.Errorf("mint job capability: %w: empty job id", ErrInvalid)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.minted[jobID]; ok {
		return nil, fmt.Errorf("mint job capability %q: %w", jobID, ErrAlreadyMinted)
	}
	mac, err := a.keys.MAC(KindJob, jobID)
	if err != nil {
		return nil, err
	}
	a.minted[jobID] = struct{}{}

	a.logger.Info("capability minted", "kind", KindJob, "job_id", jobID)
	return &JobCapability{jobID: jobID, systemID: a.systemID, mac: mac}, nil
}

// MintAdmin mints the admin capability. It succeeds once per authority.
func (a *Authority) MintAdmin() (*AdminCapability, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adminMinted {
		return nil, fmt.Errorf("mint admin capability: %w", ErrAlreadyMinted)
	}
	mac, err := a.keys.MAC(KindAdmin, a.systemID)
	if err != nil {
		return nil, err
	}
	a.adminMinted = true

	a.logger.Info("capability minted", "kind", KindAdmin, "system_id", a.systemID)
	return &AdminCapability{systemID: a.systemID, mac: mac}, nil
}

// VerifyJob checks that c was minted by this authority for jobID.
func (a *Authority) VerifyJob(c *JobCapability, jobID string) error {
	if !c.Authorizes(jobID) || c.systemID != a.systemID {
		return ErrInvalid
	}
	want, err := a.keys.MAC(KindJob, c.jobID)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, c.mac) {
		return ErrInvalid
	}
	return nil
}

// VerifyAdmin checks that c was minted by this authority.
func (a *Authority) VerifyAdmin(c *AdminCapability) error {
	if c == nil || c.systemID != a.systemID {
		return ErrInvalid
	}
	want, err := a.keys.MAC(KindAdmin, c.systemID)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, c.mac) {
		return ErrInvalid
	}
	return nil
}
