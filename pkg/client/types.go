package client

import "time"

// Job mirrors the server's job representation.
type Job struct {
	ID             string              `json:"id"`
	Contractor     string              `json:"contractor"`
	Bids           map[string]*Profile `json:"bids"`
	Description    string              `json:"description"`
	ProjectType    string              `json:"project_type"`
	RequiredSkills []string            `json:"required_skills"`
	Budget         int64               `json:"budget"`
	Escrow         int64               `json:"escrow"`
	Dispute        bool                `json:"dispute"`
	Rating         *int                `json:"rating,omitempty"`
	BiddingClosed  bool                `json:"bidding_closed"`
	Worker         string              `json:"worker,omitempty"`
	WorkSubmitted  bool                `json:"work_submitted"`
	Outcome        string              `json:"outcome,omitempty"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	Deadline       time.Time           `json:"deadline"`
}

type Profile struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description"`
	Skills      []string  `json:"skills"`
	CreatedAt   time.Time `json:"created_at"`
}

type Complaint struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Complainer string     `json:"complainer"`
	Worker     string     `json:"worker"`
	Contractor string     `json:"contractor"`
	Reason     string     `json:"reason"`
	Decision   bool       `json:"decision"`
	Resolved   bool       `json:"resolved"`
	FiledAt    time.Time  `json:"filed_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type Payout struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type Health struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	LedgerHead string `json:"ledger_head"`
	Custody    string `json:"custody"`
}

type LedgerEntry struct {
	Sequence    uint64         `json:"sequence"`
	Type        string         `json:"type"`
	JobID       string         `json:"job_id,omitempty"`
	Author      string         `json:"author,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	PrevHash    string         `json:"prev_hash"`
	ContentHash string         `json:"content_hash"`
}

// JobRequest is the body of CreateJob.
type JobRequest struct {
	Description    string        `json:"description,omitempty"`
	ProjectType    string        `json:"project_type,omitempty"`
	RequiredSkills []string      `json:"required_skills,omitempty"`
	Budget         int64         `json:"budget"`
	Duration       time.Duration `json:"-"`
}

type createJobBody struct {
	JobRequest
	DurationMs int64 `json:"duration_ms"`
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}
