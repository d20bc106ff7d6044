package store

import (
	"context"
	"time"
)

// AppendLog records an audit entry for an action performed outside the store,
// e.g. by the bot layer. UserID may be nil for admin actions.
func (s *Store) AppendLog(ctx context.Context, kind string, userID *int64, payload map[string]any) LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logEventLocked(kind, userID, payload)
}

// RecentLogs returns up to limit entries, newest first. The limit is capped to
// the log's retained capacity.
func (s *Store) RecentLogs(ctx context.Context, limit int) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.logLimit {
		limit = s.logLimit
	}
	if limit > len(s.logs) {
		limit = len(s.logs)
	}

	out := make([]LogEntry, 0, limit)
	for i := len(s.logs) - 1; i >= len(s.logs)-limit; i-- {
		out = append(out, s.logs[i])
	}
	return out
}

// logEventLocked appends a bounded audit entry and persists the log file.
// The log is a history, never the source of truth, so a persistence failure
// here is logged and not surfaced to the mutation that triggered it.
func (s *Store) logEventLocked(kind string, userID *int64, payload map[string]any) LogEntry {
	if payload == nil {
		payload = map[string]any{}
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		UserID:    userID,
		Payload:   payload,
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > s.logLimit {
		s.logs = s.logs[len(s.logs)-s.logLimit:]
	}
	if err := s.saveJSONLocked(logsFile, s.logs); err != nil {
		s.logger.Warn("failed persisting log", "kind", kind, "error", err)
	}
	return entry
}
