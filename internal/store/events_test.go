package store

import (
	"context"
	"testing"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

func TestAppendEventSeqConflictIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		e := &models.RunEvent{
			AgentID: "run-1",
			Seq:     seq,
			Level:   models.LevelInfo,
			Stage:   models.StageDiscover,
			Message: "unit done",
		}
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	// A resumed executor replays seq 2; the original row wins.
	replay := &models.RunEvent{
		AgentID: "run-1",
		Seq:     2,
		Level:   models.LevelWarn,
		Message: "replayed",
	}
	if err := s.AppendEvent(ctx, replay); err != nil {
		t.Fatalf("AppendEvent replay failed: %v", err)
	}

	events, err := s.ListEventsSince(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[1].Message != "unit done" {
		t.Errorf("Replay must not overwrite, got %q", events[1].Message)
	}
}

func TestAppendEventsBatchAndReplayCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := make([]*models.RunEvent, 0, 4)
	for seq := uint64(1); seq <= 4; seq++ {
		batch = append(batch, &models.RunEvent{
			AgentID: "run-1",
			Seq:     seq,
			Level:   models.LevelInfo,
			Stage:   models.StageScore,
			Message: "scored",
			Meta:    map[string]any{"score": 0.7},
		})
	}
	if err := s.AppendEvents(ctx, batch); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}

	// Last-Event-ID style replay from the middle of the stream.
	events, err := s.ListEventsSince(ctx, "run-1", 2)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after seq 2, got %d", len(events))
	}
	if events[0].Seq != 3 || events[1].Seq != 4 {
		t.Errorf("Events out of order: %d, %d", events[0].Seq, events[1].Seq)
	}
	if events[0].Meta == nil || events[0].Meta["score"] != 0.7 {
		t.Errorf("Meta did not round-trip: %v", events[0].Meta)
	}
}

func TestQueueEventFlushes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		s.QueueEvent(&models.RunEvent{
			AgentID: "run-1",
			Seq:     seq,
			Level:   models.LevelInfo,
			Message: "queued",
		})
	}

	// The worker pool flushes on its ticker.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := s.ListEventsSince(ctx, "run-1", 0)
		if err != nil {
			t.Fatalf("ListEventsSince failed: %v", err)
		}
		if len(events) == 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Queued events never flushed, have %d", len(events))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStageCursorReportsPersistedOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Fresh run: all-zero cursor, nothing done.
	cur, err := s.StageCursor(ctx, "run-1")
	if err != nil {
		t.Fatalf("StageCursor failed: %v", err)
	}
	if cur.DiscoverDone() || cur.ScoreDone() || cur.VerifyDone() {
		t.Errorf("Empty run must report no completed stages: %+v", cur)
	}

	titles := []string{"Go Engineer", "Rust Engineer", "Java Engineer"}
	for _, title := range titles {
		job := &models.JobPosting{AgentID: "run-1", Title: title, Company: "Acme", Site: "jsearch"}
		if _, err := s.UpsertJob(ctx, job); err != nil {
			t.Fatalf("UpsertJob failed: %v", err)
		}
	}
	jobs, _ := s.ListJobs(ctx, "run-1")
	s.MarkJobScored(ctx, jobs[0].ID, 0.9, true)
	s.MarkJobScored(ctx, jobs[1].ID, 0.3, false)

	contact := &models.Contact{AgentID: "run-1", Email: "a@acme.com", Company: "Acme"}
	if _, err := s.UpsertContact(ctx, contact); err != nil {
		t.Fatalf("UpsertContact failed: %v", err)
	}
	contacts, _ := s.ListContacts(ctx, "run-1")
	s.MarkContactVerified(ctx, contacts[0].ID, true, 0.95)

	campaign := &models.Campaign{AgentID: "run-1", Company: "Acme", Tier: models.TierBulk}
	if err := s.CreateCampaign(ctx, campaign); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	s.AddCampaignCounts(ctx, campaign.ID, 2, 0)

	cur, err = s.StageCursor(ctx, "run-1")
	if err != nil {
		t.Fatalf("StageCursor failed: %v", err)
	}

	if cur.JobCount != 3 || cur.ScoredCount != 2 || cur.AdmittedCount != 1 {
		t.Errorf("Job cursor wrong: %+v", cur)
	}
	if cur.ContactCount != 1 || cur.CheckedCount != 1 || cur.VerifiedCount != 1 {
		t.Errorf("Contact cursor wrong: %+v", cur)
	}
	if cur.CampaignCount != 1 || cur.SentCount != 2 {
		t.Errorf("Campaign cursor wrong: %+v", cur)
	}

	if !cur.DiscoverDone() {
		t.Error("DiscoverDone must be true once jobs exist")
	}
	if cur.ScoreDone() {
		t.Error("ScoreDone must be false while a job is unscored")
	}
	if !cur.VerifyDone() {
		t.Error("VerifyDone must be true once every contact is checked")
	}

	s.MarkJobScored(ctx, jobs[2].ID, 0.1, false)
	cur, _ = s.StageCursor(ctx, "run-1")
	if !cur.ScoreDone() {
		t.Error("ScoreDone must be true once every job is scored")
	}
}
