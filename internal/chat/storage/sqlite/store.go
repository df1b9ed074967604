// Package sqlite provides SQLite-backed persistence for the chat sync
// subsystem. A partial unique index keeps at most one non-ended session per
// user, and write transactions make the start/send/register entry points
// atomic so client retries never duplicate state.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/storage"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for chat sync state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toMillisPtr(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func fromMillisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	at := fromMillis(value.Int64)
	return &at
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		specialist_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		last_activity_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_sessions_open_user
		ON chat_sessions (user_id) WHERE status != 'ended'`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions (id),
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		client_message_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_messages_client_dedupe
		ON chat_messages (session_id, client_message_id) WHERE client_message_id != ''`,
	`CREATE INDEX IF NOT EXISTS chat_messages_session_created
		ON chat_messages (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS phone_call_requests (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES chat_sessions (id),
		requester_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		responded_at INTEGER,
		initiated_at INTEGER,
		completed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS phone_call_requests_session
		ON phone_call_requests (session_id, status)`,
	`CREATE TABLE IF NOT EXISTS active_session_records (
		user_id TEXT PRIMARY KEY,
		session_token TEXT NOT NULL,
		device_info TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`,
}

// Open opens a chat sync SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.ensureSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ensureSchema() error {
	for _, statement := range schemaStatements {
		if _, err := s.sqlDB.Exec(statement); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// StartOrReuseSession implements storage.SessionStore.
func (s *Store) StartOrReuseSession(ctx context.Context, candidate domain.ChatSession, reusable func(domain.ChatSession) bool) (domain.ChatSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatSession{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatSession{}, false, fmt.Errorf("storage is not configured")
	}

	// Two attempts: a concurrent start can slip between our select and
	// insert; the open-session unique index rejects the loser, which then
	// re-selects the winner's row.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		session, created, err := s.startOrReuseOnce(ctx, candidate, reusable)
		if err == nil {
			return session, created, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return domain.ChatSession{}, false, err
		}
		lastErr = err
	}
	return domain.ChatSession{}, false, lastErr
}

func (s *Store) startOrReuseOnce(ctx context.Context, candidate domain.ChatSession, reusable func(domain.ChatSession) bool) (domain.ChatSession, bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChatSession{}, false, fmt.Errorf("begin start-or-reuse tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := findOpenSession(ctx, tx, candidate.UserID)
	switch {
	case err == nil:
		if reusable == nil || reusable(existing) {
			if err := tx.Commit(); err != nil {
				return domain.ChatSession{}, false, fmt.Errorf("commit start-or-reuse tx: %w", err)
			}
			return existing, false, nil
		}
		if _, err := endSessionExec(ctx, tx, existing.ID, candidate.StartedAt); err != nil {
			return domain.ChatSession{}, false, err
		}
	case errors.Is(err, storage.ErrNotFound):
		// no open session, fall through to insert
	default:
		return domain.ChatSession{}, false, err
	}

	if err := insertSessionExec(ctx, tx, candidate); err != nil {
		if isUniqueViolation(err) {
			return domain.ChatSession{}, false, storage.ErrConflict
		}
		return domain.ChatSession{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChatSession{}, false, fmt.Errorf("commit start-or-reuse tx: %w", err)
	}
	return candidate, true, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sessionColumns = "id, user_id, specialist_id, status, started_at, ended_at, last_activity_at"

func scanSession(row *sql.Row) (domain.ChatSession, error) {
	var session domain.ChatSession
	var status string
	var startedAt, lastActivityAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&session.ID, &session.UserID, &session.SpecialistID, &status, &startedAt, &endedAt, &lastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatSession{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("scan session row: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	session.StartedAt = fromMillis(startedAt)
	session.EndedAt = fromMillisPtr(endedAt)
	session.LastActivityAt = fromMillis(lastActivityAt)
	return session, nil
}

func findOpenSession(ctx context.Context, q rowQuerier, userID string) (domain.ChatSession, error) {
	// Prefer an active session over a waiting one.
	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE user_id = ? AND status != 'ended'
		 ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END
		 LIMIT 1`, userID)
	return scanSession(row)
}

func insertSessionExec(ctx context.Context, e execer, session domain.ChatSession) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, specialist_id, status, started_at, ended_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.SpecialistID, string(session.Status),
		toMillis(session.StartedAt), toMillisPtr(session.EndedAt), toMillis(session.LastActivityAt))
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func endSessionExec(ctx context.Context, e execer, sessionID string, at time.Time) (int64, error) {
	result, err := e.ExecContext(ctx,
		`UPDATE chat_sessions SET status = 'ended', ended_at = ?, last_activity_at = ?
		 WHERE id = ? AND status != 'ended'`,
		toMillis(at), toMillis(at), sessionID)
	if err != nil {
		return 0, fmt.Errorf("end session: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("end session rows affected: %w", err)
	}
	return changed, nil
}

// GetSession implements storage.SessionStore.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatSession{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// FindOpenSession implements storage.SessionStore.
func (s *Store) FindOpenSession(ctx context.Context, userID string) (domain.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatSession{}, fmt.Errorf("storage is not configured")
	}
	return findOpenSession(ctx, s.sqlDB, userID)
}

// EndSession implements storage.SessionStore.
func (s *Store) EndSession(ctx context.Context, sessionID string, at time.Time) (domain.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatSession{}, fmt.Errorf("storage is not configured")
	}
	if _, err := endSessionExec(ctx, s.sqlDB, sessionID, at); err != nil {
		return domain.ChatSession{}, err
	}
	return s.GetSession(ctx, sessionID)
}

// AssignSpecialist implements storage.SessionStore.
func (s *Store) AssignSpecialist(ctx context.Context, sessionID, specialistID string, at time.Time) (domain.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatSession{}, fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE chat_sessions SET specialist_id = ?, status = 'active', last_activity_at = ?
		 WHERE id = ? AND status = 'waiting'`,
		specialistID, toMillis(at), sessionID)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("assign specialist: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

// TouchSession implements storage.SessionStore.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE chat_sessions SET last_activity_at = ? WHERE id = ?`,
		toMillis(at), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListStaleWaiting implements storage.SessionStore.
func (s *Store) ListStaleWaiting(ctx context.Context, startedBefore time.Time) ([]domain.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE status = 'waiting' AND specialist_id = '' AND started_at < ?
		 ORDER BY started_at ASC`,
		toMillis(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("list stale waiting sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ChatSession
	for rows.Next() {
		var session domain.ChatSession
		var status string
		var startedAt, lastActivityAt int64
		var endedAt sql.NullInt64
		if err := rows.Scan(&session.ID, &session.UserID, &session.SpecialistID, &status, &startedAt, &endedAt, &lastActivityAt); err != nil {
			return nil, fmt.Errorf("scan stale session row: %w", err)
		}
		session.Status = domain.SessionStatus(status)
		session.StartedAt = fromMillis(startedAt)
		session.EndedAt = fromMillisPtr(endedAt)
		session.LastActivityAt = fromMillis(lastActivityAt)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale session rows: %w", err)
	}
	return sessions, nil
}

func metadataToJSON(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode message metadata: %w", err)
	}
	return string(encoded), nil
}

func metadataFromJSON(encoded string) (map[string]any, error) {
	if encoded == "" || encoded == "{}" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(encoded), &metadata); err != nil {
		return nil, fmt.Errorf("decode message metadata: %w", err)
	}
	return metadata, nil
}

const messageColumns = "id, session_id, sender_id, sender_role, kind, content, metadata, client_message_id, created_at, is_read"

func scanMessageRow(scan func(dest ...any) error) (domain.ChatMessage, error) {
	var message domain.ChatMessage
	var role, kind, metadata string
	var createdAt int64
	var isRead int
	err := scan(&message.ID, &message.SessionID, &message.SenderID, &role, &kind,
		&message.Content, &metadata, &message.ClientMessageID, &createdAt, &isRead)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	message.SenderRole = domain.SenderRole(role)
	message.Kind = domain.MessageKind(kind)
	message.CreatedAt = fromMillis(createdAt)
	message.IsRead = isRead != 0
	decoded, err := metadataFromJSON(metadata)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	message.Metadata = decoded
	return message, nil
}

// InsertMessage implements storage.MessageStore.
func (s *Store) InsertMessage(ctx context.Context, message domain.ChatMessage) (domain.ChatMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ChatMessage{}, false, fmt.Errorf("storage is not configured")
	}

	metadata, err := metadataToJSON(message.Metadata)
	if err != nil {
		return domain.ChatMessage{}, false, err
	}

	isRead := 0
	if message.IsRead {
		isRead = 1
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_id, sender_role, kind, content, metadata, client_message_id, created_at, is_read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.SenderID, string(message.SenderRole), string(message.Kind),
		message.Content, metadata, message.ClientMessageID, toMillis(message.CreatedAt), isRead)
	if err == nil {
		return message, true, nil
	}
	if !isUniqueViolation(err) || strings.TrimSpace(message.ClientMessageID) == "" {
		return domain.ChatMessage{}, false, fmt.Errorf("insert message: %w", err)
	}

	// Retry of an already-applied send: return the row persisted first.
	existing, findErr := s.findMessageByClientID(ctx, message.SessionID, message.ClientMessageID)
	if findErr != nil {
		return domain.ChatMessage{}, false, findErr
	}
	return existing, false, nil
}

func (s *Store) findMessageByClientID(ctx context.Context, sessionID, clientMessageID string) (domain.ChatMessage, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages
		 WHERE session_id = ? AND client_message_id = ?`,
		sessionID, clientMessageID)
	message, err := scanMessageRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatMessage{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("find message by client id: %w", err)
	}
	return message, nil
}

// ListMessages implements storage.MessageStore.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages
		 WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		message, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// MarkMessagesRead implements storage.MessageStore.
func (s *Store) MarkMessagesRead(ctx context.Context, sessionID, readerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE chat_messages SET is_read = 1
		 WHERE session_id = ? AND sender_id != ? AND is_read = 0`,
		sessionID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark messages read rows affected: %w", err)
	}
	return changed, nil
}

const phoneCallColumns = "id, session_id, requester_id, status, created_at, expires_at, responded_at, initiated_at, completed_at"

func scanPhoneCallRow(scan func(dest ...any) error) (domain.PhoneCallRequest, error) {
	var request domain.PhoneCallRequest
	var status string
	var createdAt, expiresAt int64
	var respondedAt, initiatedAt, completedAt sql.NullInt64
	err := scan(&request.ID, &request.SessionID, &request.RequesterID, &status,
		&createdAt, &expiresAt, &respondedAt, &initiatedAt, &completedAt)
	if err != nil {
		return domain.PhoneCallRequest{}, err
	}
	request.Status = domain.PhoneCallStatus(status)
	request.CreatedAt = fromMillis(createdAt)
	request.ExpiresAt = fromMillis(expiresAt)
	request.RespondedAt = fromMillisPtr(respondedAt)
	request.InitiatedAt = fromMillisPtr(initiatedAt)
	request.CompletedAt = fromMillisPtr(completedAt)
	return request, nil
}

// CreatePhoneCall implements storage.PhoneCallStore.
func (s *Store) CreatePhoneCall(ctx context.Context, request domain.PhoneCallRequest, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin phone-call tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM phone_call_requests
		 WHERE session_id = ? AND status = 'pending' AND expires_at > ?`,
		request.SessionID, toMillis(now)).Scan(&pending)
	if err != nil {
		return fmt.Errorf("count pending phone calls: %w", err)
	}
	if pending > 0 {
		return storage.ErrConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO phone_call_requests (id, session_id, requester_id, status, created_at, expires_at, responded_at, initiated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID, request.SessionID, request.RequesterID, string(request.Status),
		toMillis(request.CreatedAt), toMillis(request.ExpiresAt),
		toMillisPtr(request.RespondedAt), toMillisPtr(request.InitiatedAt), toMillisPtr(request.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert phone call: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit phone-call tx: %w", err)
	}
	return nil
}

// GetPhoneCall implements storage.PhoneCallStore.
func (s *Store) GetPhoneCall(ctx context.Context, requestID string) (domain.PhoneCallRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.PhoneCallRequest{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.PhoneCallRequest{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+phoneCallColumns+` FROM phone_call_requests WHERE id = ?`, requestID)
	request, err := scanPhoneCallRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PhoneCallRequest{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.PhoneCallRequest{}, fmt.Errorf("get phone call: %w", err)
	}
	return request, nil
}

// UpdatePhoneCall implements storage.PhoneCallStore.
func (s *Store) UpdatePhoneCall(ctx context.Context, request domain.PhoneCallRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE phone_call_requests
		 SET status = ?, responded_at = ?, initiated_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(request.Status), toMillisPtr(request.RespondedAt),
		toMillisPtr(request.InitiatedAt), toMillisPtr(request.CompletedAt), request.ID)
	if err != nil {
		return fmt.Errorf("update phone call: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phone call rows affected: %w", err)
	}
	if changed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertDevice implements storage.DeviceStore.
func (s *Store) UpsertDevice(ctx context.Context, record domain.ActiveSessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO active_session_records (user_id, session_token, device_info, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			session_token = excluded.session_token,
			device_info = excluded.device_info,
			updated_at = excluded.updated_at`,
		record.UserID, record.SessionToken, record.DeviceInfo, toMillis(record.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert device record: %w", err)
	}
	return nil
}

// GetDevice implements storage.DeviceStore.
func (s *Store) GetDevice(ctx context.Context, userID string) (domain.ActiveSessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActiveSessionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.ActiveSessionRecord{}, fmt.Errorf("storage is not configured")
	}
	var record domain.ActiveSessionRecord
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, session_token, device_info, updated_at
		 FROM active_session_records WHERE user_id = ?`, userID).
		Scan(&record.UserID, &record.SessionToken, &record.DeviceInfo, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActiveSessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.ActiveSessionRecord{}, fmt.Errorf("get device record: %w", err)
	}
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// DeleteDevice implements storage.DeviceStore.
func (s *Store) DeleteDevice(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM active_session_records WHERE user_id = ? AND session_token = ?`,
		userID, token)
	if err != nil {
		return fmt.Errorf("delete device record: %w", err)
	}
	return nil
}
