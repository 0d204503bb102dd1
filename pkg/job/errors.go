package job

import (
	"errors"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
)

var (
	ErrInvalidDuration   = errors.New("duration must be positive")
	ErrInvalidBudget     = errors.New("budget must be positive")
	ErrJobClosed         = errors.New("job is closed for bidding")
	ErrDuplicateBid      = errors.New("caller already bid on job")
	ErrInsufficientFunds = errors.New("funded amount below budget")
	ErrUnknownBidder     = errors.New("address has not bid on job")
	ErrDeadlinePassed    = errors.New("deadline passed")
	ErrTooEarly          = errors.New("deadline not yet passed")
	ErrWrongCaller       = errors.New("caller not permitted")
	ErrNoWorker          = errors.New("no worker selected")
	ErrWorkNotSubmitted  = errors.New("work not submitted")
	ErrNoDispute         = errors.New("job has no active dispute")
	ErrAlreadySettled    = errors.New("job already settled")
	ErrNotPaid           = errors.New("job not paid out")
	ErrInvalidRating     = errors.New("rating out of range")

	// ErrInvalidCapability is the capability package sentinel, re-exported so
	// callers can match lifecycle errors from one place.
	ErrInvalidCapability = capability.ErrInvalid
)
