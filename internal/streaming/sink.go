package streaming

import (
	"time"

	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

// eventStore is the slice of the store the sink needs.
type eventStore interface {
	QueueEvent(e *models.RunEvent)
}

// Sink is the single entry point pipeline code uses to emit run events.
// Log events are persisted to the event log and fanned out to live
// subscribers; status and progress events are fan-out only since their
// durable form lives on the agent row.
type Sink struct {
	store  eventStore
	mgr    *Manager
	logger *zap.Logger
}

func NewSink(store eventStore, mgr *Manager, logger *zap.Logger) *Sink {
	return &Sink{store: store, mgr: mgr, logger: logger}
}

// Log publishes a log event and queues its durable copy. The ring
// assigns the sequence number, so the stored row and the streamed event
// always carry the same seq.
func (s *Sink) Log(runID, level string, stage models.Stage, msg string, meta map[string]any) {
	evt := s.mgr.Publish(runID, Event{
		Type:    TypeLog,
		Level:   level,
		Stage:   string(stage),
		Message: msg,
		Meta:    meta,
	})
	s.store.QueueEvent(&models.RunEvent{
		AgentID:   runID,
		Seq:       evt.Seq,
		Level:     level,
		Stage:     stage,
		Message:   msg,
		Meta:      meta,
		CreatedAt: evt.Timestamp,
	})
	switch level {
	case models.LevelError:
		s.logger.Error(msg, zap.String("agent_id", runID), zap.String("stage", string(stage)))
	case models.LevelWarn:
		s.logger.Warn(msg, zap.String("agent_id", runID), zap.String("stage", string(stage)))
	}
}

// StatusChanged broadcasts a lifecycle transition to live subscribers.
func (s *Sink) StatusChanged(runID string, status models.AgentStatus) {
	s.mgr.Publish(runID, Event{
		Type:      TypeStatus,
		Status:    string(status),
		Timestamp: time.Now(),
	})
}

// ProgressTick broadcasts a progress update to live subscribers.
func (s *Sink) ProgressTick(runID string, progress float64) {
	s.mgr.Publish(runID, Event{
		Type:      TypeProgress,
		Progress:  progress,
		Timestamp: time.Now(),
	})
}
