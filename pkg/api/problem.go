// Package api serves the marketplace over HTTP with RFC 7807 error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/dispute"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/policy"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

const problemBase = "https://buildmarket.dev/errors/"

// HeaderRequestID carries the per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// Code carries the stable marketplace error kind.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Kind is a stable error code exposed to API clients.
type Kind struct {
	Code   string
	Status int
}

// kinds is searched in order; more specific sentinels come first.
var kinds = []struct {
	err  error
	kind Kind
}{
	{profile.ErrInvalidSkill, Kind{"INVALID_SKILL", http.StatusUnprocessableEntity}},
	{profile.ErrNotOwner, Kind{"NOT_OWNER", http.StatusForbidden}},
	{job.ErrJobClosed, Kind{"JOB_CLOSED", http.StatusConflict}},
	{job.ErrDuplicateBid, Kind{"DUPLICATE_BID", http.StatusConflict}},
	{job.ErrInvalidCapability, Kind{"INVALID_CAPABILITY", http.StatusForbidden}},
	{job.ErrInsufficientFunds, Kind{"INSUFFICIENT_FUNDS", http.StatusUnprocessableEntity}},
	{job.ErrWorkNotSubmitted, Kind{"WORK_NOT_SUBMITTED", http.StatusConflict}},
	{job.ErrWrongCaller, Kind{"WRONG_CALLER", http.StatusForbidden}},
	{job.ErrDeadlinePassed, Kind{"DEADLINE_PASSED", http.StatusConflict}},
	{job.ErrTooEarly, Kind{"TOO_EARLY", http.StatusConflict}},
	{job.ErrUnknownBidder, Kind{"UNKNOWN_BIDDER", http.StatusUnprocessableEntity}},
	{job.ErrNoDispute, Kind{"NO_DISPUTE", http.StatusConflict}},
	{job.ErrInvalidDuration, Kind{"INVALID_DURATION", http.StatusUnprocessableEntity}},
	{job.ErrInvalidBudget, Kind{"INVALID_BUDGET", http.StatusUnprocessableEntity}},
	{job.ErrAlreadySettled, Kind{"ALREADY_SETTLED", http.StatusConflict}},
	{job.ErrNotPaid, Kind{"NOT_PAID", http.StatusConflict}},
	{job.ErrInvalidRating, Kind{"INVALID_RATING", http.StatusUnprocessableEntity}},
	{job.ErrNoWorker, Kind{"NO_WORKER", http.StatusConflict}},
	{policy.ErrBidRejected, Kind{"BID_REJECTED", http.StatusForbidden}},
	{dispute.ErrComplaintMismatch, Kind{"COMPLAINT_MISMATCH", http.StatusUnprocessableEntity}},
	{escrow.ErrInsufficientBalance, Kind{"INSUFFICIENT_BALANCE", http.StatusPaymentRequired}},
	{escrow.ErrNegativeAmount, Kind{"INVALID_AMOUNT", http.StatusUnprocessableEntity}},
	{escrow.ErrOverflow, Kind{"INVALID_AMOUNT", http.StatusUnprocessableEntity}},
	{capability.ErrAlreadyMinted, Kind{"CONFLICT", http.StatusConflict}},
	{store.ErrNotFound, Kind{"NOT_FOUND", http.StatusNotFound}},
	{store.ErrExists, Kind{"CONFLICT", http.StatusConflict}},
	{store.ErrConflict, Kind{"CONFLICT", http.StatusConflict}},
	{identity.ErrNoCaller, Kind{"UNAUTHENTICATED", http.StatusUnauthorized}},
}

// KindOf maps err to its error kind. ok is false for unclassified errors.
func KindOf(err error) (kind Kind, ok bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind, true
		}
	}
	return Kind{}, false
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", problemBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", problemBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(HeaderRequestID),
	})
}

// WriteDomainError classifies err and writes the matching problem. Errors
// without a kind are treated as internal.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	k, ok := KindOf(err)
	if !ok {
		WriteInternal(w, err)
		return
	}
	writeProblem(w, &ProblemDetail{
		Type:     problemBase + k.Code,
		Title:    http.StatusText(k.Status),
		Status:   k.Status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(HeaderRequestID),
		Code:     k.Code,
	})
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
