package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sentryflect/event"
)

// validationError marks a write rejected by the validation rules in spec
// §3 ("enumerated columns restricted...non-negative numeric columns
// rejected if negative; CPU usage <= 100").
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

var validLevels = map[event.Level]bool{
	event.LevelDebug: true, event.LevelInfo: true, event.LevelWarning: true,
	event.LevelError: true, event.LevelCritical: true,
}

// LLMCallData is the LLMCall specialized row (spec §3).
type LLMCallData struct {
	Model       string
	Prompt      string
	Response    string
	TokensIn    *int
	TokensOut   *int
	DurationMS  *int
	IsStream    bool
	Temperature *float64
	Cost        *float64
}

// ToolCallData is the ToolCall specialized row (spec §3).
type ToolCallData struct {
	ToolName     string
	InputParams  map[string]any
	OutputResult map[string]any
	Success      bool
	ErrorMessage string
	DurationMS   *int
	Blocking     bool
}

// Severity is the editorial priority of a SecurityAlert row.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var validSeverities = map[Severity]bool{SeverityLow: true, SeverityMedium: true, SeverityHigh: true, SeverityCritical: true}

// SecurityAlertData is the SecurityAlert specialized row (spec §3).
type SecurityAlertData struct {
	AlertType    string
	Severity     Severity
	Description  string
	MatchedTerms []string
	ActionTaken  string
}

// EventSecurityData is the EventSecurity specialized row (spec §3),
// attached whenever the scanner flags an event.
type EventSecurityData struct {
	AlertLevel   string
	MatchedTerms []string
	Reason       string
	SourceField  string
}

// PerformanceMetricData is the PerformanceMetric specialized row (spec §3).
type PerformanceMetricData struct {
	MemoryUsage     *float64
	CPUUsage        *float64
	DurationMS      *int
	TokensProcessed *int
	Cost            *float64
}

// GetOrCreateAgent upserts the agent row and bumps last_seen (spec §3
// Agent lifecycle: "created on first observation; last_seen updated on
// each event").
func (s *Session) GetOrCreateAgent(agentID, name string, now time.Time) error {
	if agentID == "" {
		return validationErrorf("store: agent_id is required")
	}
	_, err := s.tx.Exec(`
		INSERT INTO agents (agent_id, name, created_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET last_seen = excluded.last_seen`,
		agentID, nilIfEmpty(name), now, now)
	if err != nil {
		return fmt.Errorf("store: get-or-create agent: %w", err)
	}
	return nil
}

// insertEvent inserts the base Event row and returns its generated id.
func (s *Session) insertEvent(ev event.Event) (string, error) {
	if !validLevels[ev.Level] {
		return "", validationErrorf("store: invalid level %q", ev.Level)
	}
	id := uuid.Must(uuid.NewV7()).String()
	data, err := json.Marshal(ev.Attributes)
	if err != nil {
		return "", fmt.Errorf("store: marshal event data: %w", err)
	}
	_, err = s.tx.Exec(`
		INSERT INTO events (id, agent_id, session_id, conversation_id, event_type,
			channel, level, direction, timestamp, trace_id, span_id, parent_span_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.AgentID, nilIfEmpty(ev.SessionID), nilIfEmpty(ev.ConversationID),
		ev.EventType, nilIfEmpty(string(ev.Channel)), string(ev.Level),
		nilIfEmpty(string(ev.Direction)), ev.Timestamp, ev.TraceID, ev.SpanID,
		nilIfEmpty(ev.ParentSpanID), string(data))
	if err != nil {
		return "", fmt.Errorf("store: insert event: %w", err)
	}
	return id, nil
}

// LogEventGeneric writes ev with no specialized row attached (spec §4.6
// write paths).
func (s *Session) LogEventGeneric(ev event.Event, now time.Time) (string, error) {
	if err := s.GetOrCreateAgent(ev.AgentID, "", now); err != nil {
		return "", err
	}
	return s.insertEvent(ev)
}

// LogLLMCall writes ev and its LLMCall row in one transaction.
func (s *Session) LogLLMCall(ev event.Event, data LLMCallData, now time.Time) (string, error) {
	if err := validateNonNegative("tokens_in", data.TokensIn); err != nil {
		return "", err
	}
	if err := validateNonNegative("tokens_out", data.TokensOut); err != nil {
		return "", err
	}
	if err := validateNonNegative("duration_ms", data.DurationMS); err != nil {
		return "", err
	}
	if err := validateNonNegativeFloat("cost", data.Cost); err != nil {
		return "", err
	}

	if err := s.GetOrCreateAgent(ev.AgentID, "", now); err != nil {
		return "", err
	}
	id, err := s.insertEvent(ev)
	if err != nil {
		return "", err
	}
	_, err = s.tx.Exec(`
		INSERT INTO llm_calls (event_id, model, prompt, response, tokens_in, tokens_out,
			duration_ms, is_stream, temperature, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, data.Model, data.Prompt, data.Response, data.TokensIn, data.TokensOut,
		data.DurationMS, data.IsStream, data.Temperature, data.Cost)
	if err != nil {
		return "", fmt.Errorf("store: insert llm_call: %w", err)
	}
	return id, nil
}

// LogToolCall writes ev and its ToolCall row in one transaction.
func (s *Session) LogToolCall(ev event.Event, data ToolCallData, now time.Time) (string, error) {
	if err := validateNonNegative("duration_ms", data.DurationMS); err != nil {
		return "", err
	}
	if err := s.GetOrCreateAgent(ev.AgentID, "", now); err != nil {
		return "", err
	}
	id, err := s.insertEvent(ev)
	if err != nil {
		return "", err
	}
	input, err := json.Marshal(data.InputParams)
	if err != nil {
		return "", fmt.Errorf("store: marshal tool input: %w", err)
	}
	output, err := json.Marshal(data.OutputResult)
	if err != nil {
		return "", fmt.Errorf("store: marshal tool output: %w", err)
	}
	_, err = s.tx.Exec(`
		INSERT INTO tool_calls (event_id, tool_name, input_params, output_result,
			success, error_message, duration_ms, blocking)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, data.ToolName, string(input), string(output), data.Success,
		nilIfEmpty(data.ErrorMessage), data.DurationMS, data.Blocking)
	if err != nil {
		return "", fmt.Errorf("store: insert tool_call: %w", err)
	}
	return id, nil
}

// LogSecurityEvent writes ev plus both its SecurityAlert and
// EventSecurity rows (spec §4.6 "log_security_event"; the scanner's
// result almost always accompanies a dedicated alert row).
func (s *Session) LogSecurityEvent(ev event.Event, alert SecurityAlertData, sec EventSecurityData, now time.Time) (string, error) {
	if alert.Severity != "" && !validSeverities[alert.Severity] {
		return "", validationErrorf("store: invalid severity %q", alert.Severity)
	}
	if err := s.GetOrCreateAgent(ev.AgentID, "", now); err != nil {
		return "", err
	}
	id, err := s.insertEvent(ev)
	if err != nil {
		return "", err
	}

	matched, _ := json.Marshal(alert.MatchedTerms)
	_, err = s.tx.Exec(`
		INSERT INTO security_alerts (event_id, alert_type, severity, description, matched_terms, action_taken)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, alert.AlertType, string(alert.Severity), alert.Description, string(matched), nilIfEmpty(alert.ActionTaken))
	if err != nil {
		return "", fmt.Errorf("store: insert security_alert: %w", err)
	}

	secMatched, _ := json.Marshal(sec.MatchedTerms)
	_, err = s.tx.Exec(`
		INSERT INTO event_security (event_id, alert_level, matched_terms, reason, source_field)
		VALUES (?, ?, ?, ?, ?)`,
		id, sec.AlertLevel, string(secMatched), nilIfEmpty(sec.Reason), nilIfEmpty(sec.SourceField))
	if err != nil {
		return "", fmt.Errorf("store: insert event_security: %w", err)
	}
	return id, nil
}

// LogPerformanceMetric attaches a PerformanceMetric row to an already
// written event id.
func (s *Session) LogPerformanceMetric(eventID string, data PerformanceMetricData) error {
	if data.CPUUsage != nil && *data.CPUUsage > 100 {
		return validationErrorf("store: cpu_usage %.2f exceeds 100", *data.CPUUsage)
	}
	if err := validateNonNegativeFloat("cpu_usage", data.CPUUsage); err != nil {
		return err
	}
	if err := validateNonNegativeFloat("memory_usage", data.MemoryUsage); err != nil {
		return err
	}
	if err := validateNonNegative("duration_ms", data.DurationMS); err != nil {
		return err
	}
	if err := validateNonNegative("tokens_processed", data.TokensProcessed); err != nil {
		return err
	}
	if err := validateNonNegativeFloat("cost", data.Cost); err != nil {
		return err
	}
	_, err := s.tx.Exec(`
		INSERT INTO performance_metrics (event_id, memory_usage, cpu_usage, duration_ms, tokens_processed, cost)
		VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, data.MemoryUsage, data.CPUUsage, data.DurationMS, data.TokensProcessed, data.Cost)
	if err != nil {
		return fmt.Errorf("store: insert performance_metric: %w", err)
	}
	return nil
}

// defaultTerminationPhrases close a conversation when the last user
// message matches one of these, case-insensitively (spec §3
// "Conversation...closed by...user termination phrases"; the exact
// default list is a supplement grounded in the original's db/db_manager.py
// conversation-close heuristics).
var defaultTerminationPhrases = []string{
	"bye", "goodbye", "that's all", "end conversation", "thanks, that's all",
}

// CloseConversationIfTerminated closes the open conversation conversationID
// when text matches a termination phrase.
func (s *Session) CloseConversationIfTerminated(conversationID, text string, now time.Time, phrases []string) (bool, error) {
	if len(phrases) == 0 {
		phrases = defaultTerminationPhrases
	}
	lower := strings.ToLower(text)
	matched := false
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	res, err := s.tx.Exec(`UPDATE conversations SET end_time = ? WHERE id = ? AND end_time IS NULL`, now, conversationID)
	if err != nil {
		return false, fmt.Errorf("store: close conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func validateNonNegative(field string, v *int) error {
	if v != nil && *v < 0 {
		return validationErrorf("store: %s must be non-negative, got %d", field, *v)
	}
	return nil
}

func validateNonNegativeFloat(field string, v *float64) error {
	if v != nil && *v < 0 {
		return validationErrorf("store: %s must be non-negative, got %v", field, *v)
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

