package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

// AppendEvent persists one run event. The (agent_id, seq) conflict guard
// makes replays after a crash or resume harmless.
func (c *Client) AppendEvent(ctx context.Context, e *models.RunEvent) error {
	if e == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO run_events (agent_id, seq, level, stage, message, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_id, seq) DO NOTHING`

	_, err := c.db.ExecContext(ctx, query,
		e.AgentID, e.Seq, e.Level, e.Stage, e.Message, JSONB(e.Meta), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// AppendEvents persists a batch of run events in one statement.
func (c *Client) AppendEvents(ctx context.Context, events []*models.RunEvent) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) == 1 {
		return c.AppendEvent(ctx, events[0])
	}

	valueStrings := make([]string, 0, len(events))
	valueArgs := make([]interface{}, 0, len(events)*7)

	for i, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*7+1, i*7+2, i*7+3, i*7+4, i*7+5, i*7+6, i*7+7,
		))
		valueArgs = append(valueArgs,
			e.AgentID, e.Seq, e.Level, e.Stage, e.Message, JSONB(e.Meta), e.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO run_events (agent_id, seq, level, stage, message, meta, created_at)
		VALUES %s
		ON CONFLICT (agent_id, seq) DO NOTHING`,
		strings.Join(valueStrings, ","),
	)

	if _, err := c.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("failed to append event batch: %w", err)
	}
	return nil
}

// ListEventsSince returns a run's events with seq greater than the given
// value, in seq order. Seq 0 replays everything.
func (c *Client) ListEventsSince(ctx context.Context, agentID string, seq uint64) ([]models.RunEvent, error) {
	var rows []eventRow
	query := `
		SELECT id, agent_id, seq, level, stage, message, meta, created_at
		FROM run_events
		WHERE agent_id = $1 AND seq > $2
		ORDER BY seq`

	if err := c.db.SelectContext(ctx, &rows, query, agentID, seq); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]models.RunEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toEvent())
	}
	return events, nil
}
