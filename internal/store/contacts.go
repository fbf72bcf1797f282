package store

import (
	"context"
	"fmt"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

// UpsertContact inserts a discovered contact, keyed naturally so re-runs
// never duplicate a person. Returns whether a new row was written.
func (c *Client) UpsertContact(ctx context.Context, contact *models.Contact) (bool, error) {
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO contacts (
			agent_id, first_name, last_name, email, company, role,
			verified, checked, confidence, source, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (agent_id, email, company) DO NOTHING`

	res, err := c.db.ExecContext(ctx, query,
		contact.AgentID, contact.FirstName, contact.LastName,
		contact.Email, contact.Company, contact.Role,
		contact.Verified, contact.Checked, contact.Confidence, contact.Source,
		contact.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const contactColumns = `
	id, agent_id, first_name, last_name, email, company, role,
	verified, checked, confidence, source, created_at`

// ListContacts returns every contact persisted for a run.
func (c *Client) ListContacts(ctx context.Context, agentID string) ([]models.Contact, error) {
	var contacts []models.Contact
	query := `SELECT` + contactColumns + ` FROM contacts WHERE agent_id = $1 ORDER BY id`

	if err := c.db.SelectContext(ctx, &contacts, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// ListUnverifiedContacts returns contacts the verification stage has not
// checked yet.
func (c *Client) ListUnverifiedContacts(ctx context.Context, agentID string) ([]models.Contact, error) {
	var contacts []models.Contact
	query := `SELECT` + contactColumns + ` FROM contacts WHERE agent_id = $1 AND NOT checked ORDER BY id`

	if err := c.db.SelectContext(ctx, &contacts, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list unverified contacts: %w", err)
	}
	return contacts, nil
}

// ListVerifiedContacts returns contacts confirmed deliverable, the only
// ones dispatch may target.
func (c *Client) ListVerifiedContacts(ctx context.Context, agentID string) ([]models.Contact, error) {
	var contacts []models.Contact
	query := `SELECT` + contactColumns + ` FROM contacts WHERE agent_id = $1 AND verified ORDER BY id`

	if err := c.db.SelectContext(ctx, &contacts, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list verified contacts: %w", err)
	}
	return contacts, nil
}

// MarkContactVerified records the verification outcome. The row is
// immutable afterwards; unverifiable contacts stay with verified = FALSE.
func (c *Client) MarkContactVerified(ctx context.Context, id int64, verified bool, confidence float64) error {
	query := `UPDATE contacts SET verified = $1, confidence = $2, checked = TRUE WHERE id = $3`

	if _, err := c.db.ExecContext(ctx, query, verified, confidence, id); err != nil {
		return fmt.Errorf("failed to mark contact verified: %w", err)
	}
	return nil
}
