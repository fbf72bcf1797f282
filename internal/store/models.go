package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/propelship/leadforge/internal/models"
)

// JSONB represents a jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface. Accepts both []byte and
// string so the sqlite test driver scans cleanly.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// stringList stores a []string as a JSON array column.
type stringList []string

func (s stringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *stringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into stringList", value)
	}
}

// agentRow maps the agents table. Tags, roles and the per-stage counters
// live in columns the domain struct does not scan directly.
type agentRow struct {
	models.Agent
	TagList  stringList `db:"tags"`
	RoleList stringList `db:"target_roles"`

	TotalJobs      int `db:"total_jobs"`
	AdmittedJobs   int `db:"admitted_jobs"`
	TotalContacts  int `db:"total_contacts"`
	VerifiedCount  int `db:"verified_contacts"`
	TotalCampaigns int `db:"total_campaigns"`
	FailedUnits    int `db:"failed_units"`
}

func (r *agentRow) toAgent() *models.Agent {
	a := r.Agent
	a.Tags = []string(r.TagList)
	a.TargetRoles = []string(r.RoleList)
	a.Counts = models.StageCounts{
		TotalJobs:      r.TotalJobs,
		AdmittedJobs:   r.AdmittedJobs,
		TotalContacts:  r.TotalContacts,
		VerifiedCount:  r.VerifiedCount,
		TotalCampaigns: r.TotalCampaigns,
		FailedUnits:    r.FailedUnits,
	}
	return &a
}

// eventRow maps the run_events table.
type eventRow struct {
	models.RunEvent
	MetaRaw JSONB `db:"meta"`
}

func (r *eventRow) toEvent() models.RunEvent {
	e := r.RunEvent
	if r.MetaRaw != nil {
		e.Meta = map[string]any(r.MetaRaw)
	}
	return e
}

// Cursor summarizes what a run has already persisted, per stage. A fresh
// executor reads it once and skips stages whose output exists.
type Cursor struct {
	JobCount      int `db:"job_count"`
	ScoredCount   int `db:"scored_count"`
	AdmittedCount int `db:"admitted_count"`
	ContactCount  int `db:"contact_count"`
	CheckedCount  int `db:"checked_count"`
	VerifiedCount int `db:"verified_count"`
	CampaignCount int `db:"campaign_count"`
	SentCount     int `db:"sent_count"`
}

// DiscoverDone reports whether the discovery stage persisted its output.
func (c Cursor) DiscoverDone() bool { return c.JobCount > 0 }

// ScoreDone reports whether every persisted job carries a score mark.
func (c Cursor) ScoreDone() bool { return c.JobCount > 0 && c.ScoredCount == c.JobCount }

// VerifyDone reports whether every persisted contact was checked.
func (c Cursor) VerifyDone() bool { return c.ContactCount > 0 && c.CheckedCount == c.ContactCount }
