package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/market"
)

// Capability token headers.
const (
	HeaderJobCapability   = "X-Job-Capability"
	HeaderAdminCapability = "X-Admin-Capability"
)

// Server exposes a market.Service under /v1. Callers must already be
// authenticated; the handlers read the address from the request context.
type Server struct {
	svc     *market.Service
	schemas schemas
	logger  *slog.Logger
	version string
}

func NewServer(svc *market.Service, version string) (*Server, error) {
	sc, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		svc:     svc,
		schemas: sc,
		logger:  slog.Default().With("component", "api"),
		version: version,
	}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/bids", s.handleBid)
	mux.HandleFunc("POST /v1/jobs/{id}/select", s.handleSelectWorker)
	mux.HandleFunc("POST /v1/jobs/{id}/submit", s.handleSubmitWork)
	mux.HandleFunc("POST /v1/jobs/{id}/confirm", s.handleConfirmWork)
	mux.HandleFunc("POST /v1/jobs/{id}/rating", s.handleRateWork)
	mux.HandleFunc("POST /v1/jobs/{id}/complaints", s.handleFileComplaint)
	mux.HandleFunc("GET /v1/jobs/{id}/complaints", s.handleListComplaints)
	mux.HandleFunc("POST /v1/jobs/{id}/complaints/{cid}/resolve", s.handleResolveDispute)

	mux.HandleFunc("POST /v1/profiles", s.handleCreateProfile)
	mux.HandleFunc("GET /v1/profiles/{id}", s.handleGetProfile)
	mux.HandleFunc("POST /v1/profiles/{id}/skills", s.handleAddSkill)

	mux.HandleFunc("POST /v1/accounts/deposit", s.handleDeposit)
	mux.HandleFunc("GET /v1/accounts/me", s.handleBalance)

	mux.HandleFunc("GET /v1/ledger", s.handleLedger)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jobCapability decodes the job capability header. A missing or forged
// token yields nil, which every capability check rejects.
func (s *Server) jobCapability(r *http.Request) *capability.JobCapability {
	tok := r.Header.Get(HeaderJobCapability)
	if tok == "" {
		return nil
	}
	c, err := s.svc.Authority().DecodeJob(tok)
	if err != nil {
		return nil
	}
	return c
}

func (s *Server) adminCapability(r *http.Request) *capability.AdminCapability {
	tok := r.Header.Get(HeaderAdminCapability)
	if tok == "" {
		return nil
	}
	c, err := s.svc.Authority().DecodeAdmin(tok)
	if err != nil {
		return nil
	}
	return c
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	LedgerHead string `json:"ledger_head"`
	Custody    string `json:"custody"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		LedgerHead: s.svc.Ledger().Head(),
		Custody:    "consistent",
	}
	if err := s.svc.CheckCustody(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "custody check failed", "error", err)
		resp.Status = "degraded"
		resp.Custody = "inconsistent"
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	Description    string   `json:"description"`
	ProjectType    string   `json:"project_type"`
	RequiredSkills []string `json:"required_skills"`
	Budget         int64    `json:"budget"`
	DurationMs     int64    `json:"duration_ms"`
}

// CreateJobResponse carries the job and its capability token. The token is
// returned only here.
type CreateJobResponse struct {
	Job        *job.Job `json:"job"`
	Capability string   `json:"capability"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !s.schemas.decode(w, r, "create_job", &req) {
		return
	}
	d, err := job.DurationFromMillis(req.DurationMs)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	j, c, err := s.svc.CreateJob(r.Context(), job.Params{
		Description:    req.Description,
		ProjectType:    req.ProjectType,
		RequiredSkills: req.RequiredSkills,
		Budget:         req.Budget,
		Duration:       d,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateJobResponse{Job: j, Capability: s.svc.Authority().EncodeJob(c)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.ListJobs(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if st := r.URL.Query().Get("status"); st != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status()) == st {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type BidRequest struct {
	ProfileID string `json:"profile_id"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if !s.schemas.decode(w, r, "bid", &req) {
		return
	}
	if err := s.svc.BidWork(r.Context(), r.PathValue("id"), req.ProfileID); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type SelectWorkerRequest struct {
	Worker identity.Address `json:"worker"`
	Funded int64            `json:"funded"`
}

func (s *Server) handleSelectWorker(w http.ResponseWriter, r *http.Request) {
	var req SelectWorkerRequest
	if !s.schemas.decode(w, r, "select_worker", &req) {
		return
	}
	p, err := s.svc.SelectWorker(r.Context(), s.jobCapability(r), r.PathValue("id"), req.Funded, req.Worker)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": p})
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SubmitWork(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmWork(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.ConfirmWork(r.Context(), s.jobCapability(r), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type RatingRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleRateWork(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !s.schemas.decode(w, r, "rating", &req) {
		return
	}
	if err := s.svc.RateWork(r.Context(), s.jobCapability(r), r.PathValue("id"), req.Rating); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ComplaintRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFileComplaint(w http.ResponseWriter, r *http.Request) {
	var req ComplaintRequest
	if !s.schemas.decode(w, r, "complaint", &req) {
		return
	}
	c, err := s.svc.FileComplaint(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComplaints(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.ListComplaints(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"complaints": cs})
}

type ResolveRequest struct {
	ToWorker bool `json:"to_worker"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !s.schemas.decode(w, r, "resolve", &req) {
		return
	}
	p, err := s.svc.ResolveDispute(r.Context(), s.adminCapability(r), r.PathValue("id"), r.PathValue("cid"), req.ToWorker)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type CreateProfileRequest struct {
	JobID       string `json:"job_id"`
	Description string `json:"description"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if !s.schemas.decode(w, r, "create_profile", &req) {
		return
	}
	p, err := s.svc.CreateWorkerProfile(r.Context(), req.JobID, req.Description)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type AddSkillRequest struct {
	Skill string `json:"skill"`
}

func (s *Server) handleAddSkill(w http.ResponseWriter, r *http.Request) {
	var req AddSkillRequest
	if !s.schemas.decode(w, r, "add_skill", &req) {
		return
	}
	p, err := s.svc.AddSkill(r.Context(), r.PathValue("id"), req.Skill)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// AccountResponse reports a spendable balance.
type AccountResponse struct {
	Address identity.Address `json:"address"`
	Balance int64            `json:"balance"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.schemas.decode(w, r, "deposit", &req) {
		return
	}
	bal, err := s.svc.Deposit(r.Context(), req.Amount)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	addr, _ := identity.CallerFrom(r.Context())
	writeJSON(w, http.StatusOK, AccountResponse{Address: addr, Balance: bal})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.svc.Balance(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	addr, _ := identity.CallerFrom(r.Context())
	writeJSON(w, http.StatusOK, AccountResponse{Address: addr, Balance: bal})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "after must be a sequence number")
			return
		}
		after = n
	}
	l := s.svc.Ledger()
	writeJSON(w, http.StatusOK, map[string]any{
		"head":    l.Head(),
		"entries": l.Entries(after, r.URL.Query().Get("job_id")),
	})
}
