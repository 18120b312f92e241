// Package store implements the relational event store (spec §3, §4.6):
// schema management, a transactional scoped session, and the read/write
// query surface over SQLite via the pure-Go modernc.org/sqlite driver —
// grounded in the teacher's internal/store/pg package (raw database/sql,
// no ORM) and cmd/migrate.go's slog-driven migration logging, adapted
// from a versioned-migration-file runner to the spec's programmatic
// schema diff/verify/update model.
package store

// columnDef describes one column for schema introspection purposes.
type columnDef struct {
	Name    string
	Type    string
	NotNull bool
}

// tableDef is a table's expected shape, used by verifySchema/updateSchema
// to diff against the live PRAGMA table_info output.
type tableDef struct {
	Name    string
	Columns []columnDef
	DDL     string
}

// schemaTables enumerates every table in §3's data model, in FK-safe
// creation order (parents before children).
var schemaTables = []tableDef{
	{
		Name: "agents",
		Columns: []columnDef{
			{Name: "agent_id", Type: "TEXT", NotNull: true},
			{Name: "name", Type: "TEXT"},
			{Name: "created_at", Type: "DATETIME", NotNull: true},
			{Name: "last_seen", Type: "DATETIME", NotNull: true},
		},
		DDL: `CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT,
			created_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		)`,
	},
	{
		Name: "sessions",
		Columns: []columnDef{
			{Name: "id", Type: "TEXT", NotNull: true},
			{Name: "agent_id", Type: "TEXT", NotNull: true},
			{Name: "start_time", Type: "DATETIME", NotNull: true},
			{Name: "end_time", Type: "DATETIME"},
			{Name: "metadata", Type: "TEXT"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			metadata TEXT
		)`,
	},
	{
		Name: "conversations",
		Columns: []columnDef{
			{Name: "id", Type: "TEXT", NotNull: true},
			{Name: "session_id", Type: "TEXT", NotNull: true},
			{Name: "start_time", Type: "DATETIME", NotNull: true},
			{Name: "end_time", Type: "DATETIME"},
			{Name: "metadata", Type: "TEXT"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			metadata TEXT
		)`,
	},
	{
		Name: "events",
		Columns: []columnDef{
			{Name: "id", Type: "TEXT", NotNull: true},
			{Name: "agent_id", Type: "TEXT", NotNull: true},
			{Name: "session_id", Type: "TEXT"},
			{Name: "conversation_id", Type: "TEXT"},
			{Name: "event_type", Type: "TEXT", NotNull: true},
			{Name: "channel", Type: "TEXT"},
			{Name: "level", Type: "TEXT", NotNull: true},
			{Name: "direction", Type: "TEXT"},
			{Name: "timestamp", Type: "DATETIME", NotNull: true},
			{Name: "trace_id", Type: "TEXT", NotNull: true},
			{Name: "span_id", Type: "TEXT", NotNull: true},
			{Name: "parent_span_id", Type: "TEXT"},
			{Name: "data", Type: "TEXT"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
			session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
			conversation_id TEXT REFERENCES conversations(id) ON DELETE SET NULL,
			event_type TEXT NOT NULL,
			channel TEXT,
			level TEXT NOT NULL,
			direction TEXT,
			timestamp DATETIME NOT NULL,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			data TEXT
		)`,
	},
	{
		Name: "llm_calls",
		Columns: []columnDef{
			{Name: "event_id", Type: "TEXT", NotNull: true},
			{Name: "model", Type: "TEXT"},
			{Name: "prompt", Type: "TEXT"},
			{Name: "response", Type: "TEXT"},
			{Name: "tokens_in", Type: "INTEGER"},
			{Name: "tokens_out", Type: "INTEGER"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "is_stream", Type: "BOOLEAN"},
			{Name: "temperature", Type: "REAL"},
			{Name: "cost", Type: "REAL"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS llm_calls (
			event_id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
			model TEXT,
			prompt TEXT,
			response TEXT,
			tokens_in INTEGER,
			tokens_out INTEGER,
			duration_ms INTEGER,
			is_stream BOOLEAN,
			temperature REAL,
			cost REAL
		)`,
	},
	{
		Name: "tool_calls",
		Columns: []columnDef{
			{Name: "event_id", Type: "TEXT", NotNull: true},
			{Name: "tool_name", Type: "TEXT"},
			{Name: "input_params", Type: "TEXT"},
			{Name: "output_result", Type: "TEXT"},
			{Name: "success", Type: "BOOLEAN"},
			{Name: "error_message", Type: "TEXT"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "blocking", Type: "BOOLEAN"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS tool_calls (
			event_id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
			tool_name TEXT,
			input_params TEXT,
			output_result TEXT,
			success BOOLEAN,
			error_message TEXT,
			duration_ms INTEGER,
			blocking BOOLEAN
		)`,
	},
	{
		Name: "security_alerts",
		Columns: []columnDef{
			{Name: "event_id", Type: "TEXT", NotNull: true},
			{Name: "alert_type", Type: "TEXT"},
			{Name: "severity", Type: "TEXT"},
			{Name: "description", Type: "TEXT"},
			{Name: "matched_terms", Type: "TEXT"},
			{Name: "action_taken", Type: "TEXT"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS security_alerts (
			event_id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
			alert_type TEXT,
			severity TEXT,
			description TEXT,
			matched_terms TEXT,
			action_taken TEXT
		)`,
	},
	{
		Name: "event_security",
		Columns: []columnDef{
			{Name: "event_id", Type: "TEXT", NotNull: true},
			{Name: "alert_level", Type: "TEXT", NotNull: true},
			{Name: "matched_terms", Type: "TEXT"},
			{Name: "reason", Type: "TEXT"},
			{Name: "source_field", Type: "TEXT"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS event_security (
			event_id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
			alert_level TEXT NOT NULL,
			matched_terms TEXT,
			reason TEXT,
			source_field TEXT
		)`,
	},
	{
		Name: "performance_metrics",
		Columns: []columnDef{
			{Name: "event_id", Type: "TEXT", NotNull: true},
			{Name: "memory_usage", Type: "REAL"},
			{Name: "cpu_usage", Type: "REAL"},
			{Name: "duration_ms", Type: "INTEGER"},
			{Name: "tokens_processed", Type: "INTEGER"},
			{Name: "cost", Type: "REAL"},
		},
		DDL: `CREATE TABLE IF NOT EXISTS performance_metrics (
			event_id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
			memory_usage REAL,
			cpu_usage REAL,
			duration_ms INTEGER,
			tokens_processed INTEGER,
			cost REAL
		)`,
	},
}

// schemaIndexes is the required index set (spec §4.6).
var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_events_agent_id ON events(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_conversation_id ON events(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_level ON events(level)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_calls_event_id ON llm_calls(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_calls_model ON llm_calls(model)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_calls_event_id ON tool_calls(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_calls_tool_name ON tool_calls(tool_name)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_calls_success ON tool_calls(success)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_composite ON security_alerts(event_id, alert_type, severity)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_timestamp ON security_alerts(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_event_security_composite ON event_security(event_id, alert_level)`,
	`CREATE INDEX IF NOT EXISTS idx_performance_metrics_event_id ON performance_metrics(event_id)`,
}

func tableNames() []string {
	names := make([]string, 0, len(schemaTables))
	for _, t := range schemaTables {
		names = append(names, t.Name)
	}
	return names
}

func tableByName(name string) (tableDef, bool) {
	for _, t := range schemaTables {
		if t.Name == name {
			return t, true
		}
	}
	return tableDef{}, false
}
