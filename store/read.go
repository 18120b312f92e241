package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// EventRow is a flattened read-side projection of the base events row
// (spec §4.6 Read paths). Columns of the specialized tables are not
// joined in.
type EventRow struct {
	ID             string
	AgentID        string
	SessionID      sql.NullString
	ConversationID sql.NullString
	EventType      string
	Channel        sql.NullString
	Level          string
	Timestamp      string
	TraceID        string
	SpanID         string
	Data           string
}

// EventFilter narrows ListEvents; zero value means "no filter" for that
// field.
type EventFilter struct {
	AgentID       string
	SessionID     string
	EventType     string
	Level         string
	Channel       string
	Limit         int
	Offset        int
	OrderByField  string // "timestamp" (default), "event_type", "level"
	OrderDesc     bool
}

// ListEvents returns a page of events matching filter, plus the total
// matching row count (for pagination UIs).
func (s *Store) ListEvents(f EventFilter) ([]EventRow, int, error) {
	where, args := f.whereClause()

	var total int
	countQ := "SELECT count(*) FROM events" + where
	if err := s.DB.QueryRow(countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count events: %w", err)
	}

	order := f.OrderByField
	if order == "" {
		order = "timestamp"
	}
	if !isSafeIdent(order) {
		return nil, 0, fmt.Errorf("store: invalid order field %q", order)
	}
	dir := "ASC"
	if f.OrderDesc {
		dir = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT id, agent_id, session_id, conversation_id, event_type,
		channel, level, timestamp, trace_id, span_id, data FROM events%s
		ORDER BY %s %s LIMIT ? OFFSET ?`, where, order, dir)
	args = append(args, limit, f.Offset)

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.AgentID, &r.SessionID, &r.ConversationID,
			&r.EventType, &r.Channel, &r.Level, &r.Timestamp, &r.TraceID, &r.SpanID, &r.Data); err != nil {
			return nil, 0, fmt.Errorf("store: scan event row: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (f EventFilter) whereClause() (string, []any) {
	var clauses []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		clauses = append(clauses, col+" = ?")
		args = append(args, val)
	}
	add("agent_id", f.AgentID)
	add("session_id", f.SessionID)
	add("event_type", f.EventType)
	add("level", f.Level)
	add("channel", f.Channel)
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func isSafeIdent(s string) bool {
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
			return false
		}
	}
	return s != ""
}

// CountByType returns event counts grouped by event_type.
func (s *Store) CountByType(agentID string) (map[string]int, error) {
	return s.countGroupedBy("event_type", agentID)
}

// CountByChannel returns event counts grouped by channel.
func (s *Store) CountByChannel(agentID string) (map[string]int, error) {
	return s.countGroupedBy("channel", agentID)
}

// CountByLevel returns event counts grouped by level.
func (s *Store) CountByLevel(agentID string) (map[string]int, error) {
	return s.countGroupedBy("level", agentID)
}

func (s *Store) countGroupedBy(column, agentID string) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT %s, count(*) FROM events`, column)
	var args []any
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += fmt.Sprintf(" GROUP BY %s", column)

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: count by %s: %w", column, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key sql.NullString
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key.String] = n
	}
	return out, rows.Err()
}

// AvgResponseTimeByModel returns the average llm_calls.duration_ms
// grouped by model.
func (s *Store) AvgResponseTimeByModel() (map[string]float64, error) {
	rows, err := s.DB.Query(`SELECT model, avg(duration_ms) FROM llm_calls WHERE model IS NOT NULL GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("store: avg response time by model: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var model string
		var avg sql.NullFloat64
		if err := rows.Scan(&model, &avg); err != nil {
			return nil, err
		}
		out[model] = avg.Float64
	}
	return out, rows.Err()
}

// AvgResponseTimeByPeriod groups average llm_calls.duration_ms by a
// SQLite strftime bucket: "hour"|"day"|"week"|"month".
func (s *Store) AvgResponseTimeByPeriod(period string) (map[string]float64, error) {
	format, ok := map[string]string{
		"hour":  "%Y-%m-%d %H:00",
		"day":   "%Y-%m-%d",
		"week":  "%Y-%W",
		"month": "%Y-%m",
	}[period]
	if !ok {
		return nil, fmt.Errorf("store: unknown period %q", period)
	}

	query := fmt.Sprintf(`
		SELECT strftime(?, e.timestamp), avg(l.duration_ms)
		FROM llm_calls l JOIN events e ON e.id = l.event_id
		WHERE l.duration_ms IS NOT NULL
		GROUP BY 1`)
	rows, err := s.DB.Query(query, format)
	if err != nil {
		return nil, fmt.Errorf("store: avg response time by %s: %w", period, err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var bucket string
		var avg float64
		if err := rows.Scan(&bucket, &avg); err != nil {
			return nil, err
		}
		out[bucket] = avg
	}
	return out, rows.Err()
}

// SlowestOp is one row of the top-N slowest-operations query.
type SlowestOp struct {
	EventID    string
	EventType  string
	DurationMS int
}

// SlowestOperations returns the top n slowest events across llm_calls
// and tool_calls combined, ordered descending by duration.
func (s *Store) SlowestOperations(n int) ([]SlowestOp, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.DB.Query(`
		SELECT e.id, e.event_type, d.duration_ms FROM (
			SELECT event_id, duration_ms FROM llm_calls WHERE duration_ms IS NOT NULL
			UNION ALL
			SELECT event_id, duration_ms FROM tool_calls WHERE duration_ms IS NOT NULL
		) d JOIN events e ON e.id = d.event_id
		ORDER BY d.duration_ms DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: slowest operations: %w", err)
	}
	defer rows.Close()

	var out []SlowestOp
	for rows.Next() {
		var op SlowestOp
		if err := rows.Scan(&op.EventID, &op.EventType, &op.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// TokenUsageByModel sums llm_calls token columns grouped by model.
func (s *Store) TokenUsageByModel() (map[string]struct{ In, Out int }, error) {
	rows, err := s.DB.Query(`
		SELECT model, coalesce(sum(tokens_in),0), coalesce(sum(tokens_out),0)
		FROM llm_calls WHERE model IS NOT NULL GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("store: token usage by model: %w", err)
	}
	defer rows.Close()

	out := map[string]struct{ In, Out int }{}
	for rows.Next() {
		var model string
		var in, o int
		if err := rows.Scan(&model, &in, &o); err != nil {
			return nil, err
		}
		out[model] = struct{ In, Out int }{in, o}
	}
	return out, rows.Err()
}

// AlertsBySeverity counts security_alerts rows grouped by severity.
func (s *Store) AlertsBySeverity() (map[string]int, error) {
	rows, err := s.DB.Query(`SELECT severity, count(*) FROM security_alerts GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("store: alerts by severity: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var sev sql.NullString
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		out[sev.String] = n
	}
	return out, rows.Err()
}
