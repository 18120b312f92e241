package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/sentryflect/event"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open :memory:: %v", err)
	}
	db.Exec(`PRAGMA foreign_keys = ON`)
	if err := createSchema(db); err != nil {
		t.Fatalf("createSchema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db, Path: ":memory:"}
}

func TestVerifySchema_FreshDBMatches(t *testing.T) {
	s := openTestDB(t)
	result, err := VerifySchema(s.DB)
	if err != nil {
		t.Fatalf("VerifySchema: %v", err)
	}
	if !result.Matches {
		t.Errorf("VerifySchema() on fresh schema = %+v, want matches=true", result)
	}
}

func TestUpdateSchema_NoopWhenMatching(t *testing.T) {
	s := openTestDB(t)
	result, err := UpdateSchema(s.DB)
	if err != nil {
		t.Fatalf("UpdateSchema: %v", err)
	}
	if !result.Matches {
		t.Errorf("UpdateSchema() on matching schema = %+v, want matches=true", result)
	}
}

func TestVerifySchema_DetectsMissingTable(t *testing.T) {
	s := openTestDB(t)
	if _, err := s.DB.Exec(`DROP TABLE performance_metrics`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	result, err := VerifySchema(s.DB)
	if err != nil {
		t.Fatalf("VerifySchema: %v", err)
	}
	if result.Matches {
		t.Error("VerifySchema() should report mismatch after dropping a table")
	}
	found := false
	for _, n := range result.MissingTables {
		if n == "performance_metrics" {
			found = true
		}
	}
	if !found {
		t.Errorf("MissingTables = %v, want performance_metrics", result.MissingTables)
	}
}

func TestLogLLMCall_WritesEventAndChildRow(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC()

	ev := event.Event{
		AgentID:   "agent-1",
		EventType: "llm.call.finish",
		Level:     event.LevelInfo,
		TraceID:   "0123456789abcdef0123456789abcdef",
		SpanID:    "0123456789abcdef",
		Timestamp: now,
	}
	tokensIn, tokensOut := 10, 20

	var eventID string
	err := s.WithSession(func(sess *Session) error {
		id, err := sess.LogLLMCall(ev, LLMCallData{Model: "claude-3-haiku", TokensIn: &tokensIn, TokensOut: &tokensOut}, now)
		eventID = id
		return err
	})
	if err != nil {
		t.Fatalf("LogLLMCall: %v", err)
	}

	var model string
	if err := s.DB.QueryRow(`SELECT model FROM llm_calls WHERE event_id = ?`, eventID).Scan(&model); err != nil {
		t.Fatalf("query llm_calls: %v", err)
	}
	if model != "claude-3-haiku" {
		t.Errorf("model = %q, want claude-3-haiku", model)
	}
}

func TestLogLLMCall_RejectsNegativeTokens(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC()
	ev := event.Event{AgentID: "agent-1", EventType: "llm.call.finish", Level: event.LevelInfo, TraceID: "x", SpanID: "y", Timestamp: now}
	bad := -5

	err := s.WithSession(func(sess *Session) error {
		_, err := sess.LogLLMCall(ev, LLMCallData{TokensIn: &bad}, now)
		return err
	})
	if err == nil {
		t.Error("expected validation error for negative tokens_in")
	}
}

func TestLogPerformanceMetric_RejectsCPUOver100(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC()
	ev := event.Event{AgentID: "agent-1", EventType: "x", Level: event.LevelInfo, TraceID: "x", SpanID: "y", Timestamp: now}
	cpu := 150.0

	err := s.WithSession(func(sess *Session) error {
		id, err := sess.LogEventGeneric(ev, now)
		if err != nil {
			return err
		}
		return sess.LogPerformanceMetric(id, PerformanceMetricData{CPUUsage: &cpu})
	})
	if err == nil {
		t.Error("expected validation error for cpu_usage > 100")
	}
}

func TestWithSession_RollsBackOnError(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC()
	ev := event.Event{AgentID: "agent-1", EventType: "x", Level: event.LevelInfo, TraceID: "x", SpanID: "y", Timestamp: now}

	err := s.WithSession(func(sess *Session) error {
		if _, err := sess.LogEventGeneric(ev, now); err != nil {
			return err
		}
		return validationErrorf("force rollback")
	})
	if err == nil {
		t.Fatal("expected error from forced failure")
	}

	var n int
	s.DB.QueryRow(`SELECT count(*) FROM events`).Scan(&n)
	if n != 0 {
		t.Errorf("events count = %d after rollback, want 0", n)
	}
}

func TestCloseConversationIfTerminated(t *testing.T) {
	s := openTestDB(t)
	now := time.Now().UTC()

	err := s.WithSession(func(sess *Session) error {
		if err := sess.GetOrCreateAgent("agent-1", "", now); err != nil {
			return err
		}
		if _, err := sess.tx.Exec(`INSERT INTO sessions (id, agent_id, start_time) VALUES ('sess-1', 'agent-1', ?)`, now); err != nil {
			return err
		}
		if _, err := sess.tx.Exec(`INSERT INTO conversations (id, session_id, start_time) VALUES ('conv-1', 'sess-1', ?)`, now); err != nil {
			return err
		}
		closed, err := sess.CloseConversationIfTerminated("conv-1", "ok, goodbye then", now, nil)
		if err != nil {
			return err
		}
		if !closed {
			t.Error("expected conversation to close on termination phrase")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
}
