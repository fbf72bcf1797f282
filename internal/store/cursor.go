package store

import (
	"context"
	"fmt"
)

// StageCursor scans what a run already persisted. Executed once when an
// executor launches, so a resumed run skips finished stages and a fresh
// run sees an all-zero cursor.
func (c *Client) StageCursor(ctx context.Context, agentID string) (Cursor, error) {
	var cur Cursor
	query := `
		SELECT
			(SELECT COUNT(*) FROM jobs WHERE agent_id = $1) AS job_count,
			(SELECT COUNT(*) FROM jobs WHERE agent_id = $2 AND scored) AS scored_count,
			(SELECT COUNT(*) FROM jobs WHERE agent_id = $3 AND admitted) AS admitted_count,
			(SELECT COUNT(*) FROM contacts WHERE agent_id = $4) AS contact_count,
			(SELECT COUNT(*) FROM contacts WHERE agent_id = $5 AND checked) AS checked_count,
			(SELECT COUNT(*) FROM contacts WHERE agent_id = $6 AND verified) AS verified_count,
			(SELECT COUNT(*) FROM campaigns WHERE agent_id = $7) AS campaign_count,
			(SELECT COALESCE(SUM(sent_count), 0) FROM campaigns WHERE agent_id = $8) AS sent_count`

	err := c.db.GetContext(ctx, &cur, query,
		agentID, agentID, agentID, agentID, agentID, agentID, agentID, agentID,
	)
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to scan stage cursor: %w", err)
	}
	return cur, nil
}
