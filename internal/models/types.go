package models

import "time"

// AgentStatus is the lifecycle state of a run.
type AgentStatus string

// Run lifecycle states
const (
	StatusCreated   AgentStatus = "created"
	StatusRunning   AgentStatus = "running"
	StatusPaused    AgentStatus = "paused"
	StatusCompleted AgentStatus = "completed"
	StatusCancelled AgentStatus = "cancelled"
	StatusFailed    AgentStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s AgentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal lifecycle transition.
// Cancelled is reachable from any non-terminal state.
func (s AgentStatus) CanTransition(to AgentStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch s {
	case StatusCreated:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted || to == StatusFailed
	case StatusPaused:
		return to == StatusRunning
	}
	return false
}

// Pipeline stages, in execution order.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageScore    Stage = "score"
	StageContacts Stage = "contacts"
	StageVerify   Stage = "verify"
	StageDispatch Stage = "dispatch"
)

// StageOrder lists the stages in the order the executor runs them.
var StageOrder = []Stage{StageDiscover, StageScore, StageContacts, StageVerify, StageDispatch}

// CampaignTier selects which messaging provider chain a campaign is
// eligible for. Explicit policy input, never auto-detected.
type CampaignTier string

const (
	TierBulk       CampaignTier = "bulk"
	TierAutomation CampaignTier = "automation"
	TierPremium    CampaignTier = "premium"
)

// Campaign statuses
type CampaignStatus string

const (
	CampaignReady    CampaignStatus = "ready"
	CampaignActive   CampaignStatus = "active"
	CampaignDeferred CampaignStatus = "deferred"
	CampaignFailed   CampaignStatus = "failed"
)

// Agent is one orchestration run: a single query moving through the
// pipeline to completion or cancellation. Owned by the control plane;
// mutated only by the executor and by control signals.
type Agent struct {
	ID          string       `json:"id" db:"id"`
	Query       string       `json:"query" db:"query"`
	Status      AgentStatus  `json:"status" db:"status"`
	Progress    float64      `json:"progress" db:"progress"`
	HoursOld    int          `json:"hours_old" db:"hours_old"`
	MinScore    float64      `json:"min_score" db:"min_score"`
	Tier        CampaignTier `json:"tier" db:"tier"`
	Tags        []string     `json:"tags,omitempty" db:"-"`
	TargetRoles []string     `json:"target_roles,omitempty" db:"-"`
	Counts      StageCounts  `json:"counts" db:"-"`
	Error       string       `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// StageCounts are the per-run entity counters surfaced by status().
type StageCounts struct {
	TotalJobs      int `json:"total_jobs" db:"total_jobs"`
	AdmittedJobs   int `json:"admitted_jobs" db:"admitted_jobs"`
	TotalContacts  int `json:"total_contacts" db:"total_contacts"`
	VerifiedCount  int `json:"verified_contacts" db:"verified_contacts"`
	TotalCampaigns int `json:"total_campaigns" db:"total_campaigns"`
	FailedUnits    int `json:"failed_units" db:"failed_units"`
}

// JobPosting is one discovered item. Immutable after creation except for
// the score/admitted marks set once by the scoring stage. Natural key:
// (agent_id, company, title, site).
type JobPosting struct {
	ID          int64      `json:"id" db:"id"`
	AgentID     string     `json:"agent_id" db:"agent_id"`
	SourceID    string     `json:"source_id" db:"source_id"`
	Title       string     `json:"title" db:"title"`
	Company     string     `json:"company" db:"company"`
	Location    string     `json:"location" db:"location"`
	Remote      bool       `json:"remote" db:"remote"`
	Description string     `json:"description" db:"description"`
	URL         string     `json:"url" db:"url"`
	Site        string     `json:"site" db:"site"`
	PostedAt    *time.Time `json:"posted_at,omitempty" db:"posted_at"`
	Score       float64    `json:"score" db:"score"`
	Admitted    bool       `json:"admitted" db:"admitted"`
	Scored      bool       `json:"scored" db:"scored"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Contact is a person reachable at a discovered company. Mutated exactly
// once, by the verification stage. Natural key: (agent_id, email, company).
type Contact struct {
	ID         int64     `json:"id" db:"id"`
	AgentID    string    `json:"agent_id" db:"agent_id"`
	FirstName  string    `json:"first_name" db:"first_name"`
	LastName   string    `json:"last_name" db:"last_name"`
	Email      string    `json:"email" db:"email"`
	Company    string    `json:"company" db:"company"`
	Role       string    `json:"role" db:"role"`
	Verified   bool      `json:"verified" db:"verified"`
	Checked    bool      `json:"checked" db:"checked"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Source     string    `json:"source" db:"source"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Campaign is one outbound batch built by the dispatch stage. Counters
// keep moving for the lifetime of the campaign as delivery feedback
// arrives; updates are additive, never overwrites.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	AgentID         string         `json:"agent_id" db:"agent_id"`
	Name            string         `json:"name" db:"name"`
	Company         string         `json:"company" db:"company"`
	Provider        string         `json:"provider" db:"provider"`
	Tier            CampaignTier   `json:"tier" db:"tier"`
	Status          CampaignStatus `json:"status" db:"status"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body" db:"body"`
	TargetCount     int            `json:"target_count" db:"target_count"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	SuppressedCount int            `json:"suppressed_count" db:"suppressed_count"`
	OpenCount       int            `json:"open_count" db:"open_count"`
	ReplyCount      int            `json:"reply_count" db:"reply_count"`
	BounceCount     int            `json:"bounce_count" db:"bounce_count"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// RunEvent is one append-only structured log record for a run. Seq is
// assigned per run in unit-completion order.
type RunEvent struct {
	ID        int64          `json:"id" db:"id"`
	AgentID   string         `json:"agent_id" db:"agent_id"`
	Seq       uint64         `json:"seq" db:"seq"`
	Level     string         `json:"level" db:"level"`
	Stage     Stage          `json:"stage" db:"stage"`
	Message   string         `json:"message" db:"message"`
	Meta      map[string]any `json:"meta,omitempty" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Event severity levels for RunEvent.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)
