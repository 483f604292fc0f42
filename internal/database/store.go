package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// EnsureGroup fetches the group with the given JID, creating it as a
	// managed group if absent. A non-empty name updates a differing or
	// missing stored name; an empty name never overwrites a known one.
	EnsureGroup(ctx context.Context, groupJID, groupName string) (*Group, error)

	// SaveMessage inserts a message keyed by its external MessageID.
	// Returns false with a nil error when the message already exists.
	SaveMessage(ctx context.Context, message *Message) (bool, error)

	// MessagesSince returns the group's messages with timestamp >= since,
	// ascending by timestamp. excludeSenderJID, when non-empty, filters out
	// that sender (used to drop the bot's own echoes).
	MessagesSince(ctx context.Context, groupJID string, since time.Time, excludeSenderJID string) ([]*Message, error)

	// ManagedGroups returns all managed groups in insertion order.
	ManagedGroups(ctx context.Context) ([]*Group, error)

	// InsertSummaryLog appends one summarization attempt to the audit trail.
	InsertSummaryLog(ctx context.Context, log *SummaryLog) error

	// LatestSummaryLog returns the most recent summary log for a group,
	// or nil, nil when the group has none.
	LatestSummaryLog(ctx context.Context, groupJID string) (*SummaryLog, error)

	// MarkSummaryLogsSent flips sent_successfully for the given log IDs.
	MarkSummaryLogsSent(ctx context.Context, logIDs []uint) error

	// AdvanceSummarySync moves the watermark of every listed group forward
	// to syncTime in a single transaction. Watermarks never move backwards.
	AdvanceSummarySync(ctx context.Context, groupJIDs []string, syncTime time.Time) error

	// SetMessageEmbedding stores the derived embedding for a message.
	// Write-once: an existing embedding is left untouched.
	SetMessageEmbedding(ctx context.Context, messageID string, embedding []byte) error

	// CountGroups returns the number of managed groups.
	CountGroups(ctx context.Context) (int64, error)

	// CountMessages returns the total number of stored messages.
	CountMessages(ctx context.Context) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) EnsureGroup(ctx context.Context, groupJID, groupName string) (*Group, error) {
	if groupJID == "" {
		return nil, fmt.Errorf("group JID cannot be empty")
	}

	var group Group
	err := s.db.GetContext(ctx, &group,
		`SELECT id, created_at, updated_at, group_jid, group_name, managed, last_summary_sync
		 FROM groups WHERE group_jid = ?`, groupJID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		group = Group{
			CreatedAt:       now,
			UpdatedAt:       now,
			GroupJID:        groupJID,
			Managed:         true,
			LastSummarySync: now,
		}
		if groupName != "" {
			group.GroupName = sql.NullString{String: groupName, Valid: true}
		}

		result, err := s.db.NamedExecContext(ctx,
			`INSERT INTO groups (group_jid, group_name, managed, last_summary_sync, created_at, updated_at)
			 VALUES (:group_jid, :group_name, :managed, :last_summary_sync, :created_at, :updated_at)`, &group)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error creating group", "group_jid", groupJID, "error", err)
			return nil, fmt.Errorf("failed to create group %s: %w", groupJID, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			//nolint:gosec // integer overflow conversion is acceptable here
			group.ID = uint(id)
		}

		s.logger.InfoContext(ctx, "Created new group record", "group_jid", groupJID, "group_name", groupName)
		return &group, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching group", "group_jid", groupJID, "error", err)
		return nil, fmt.Errorf("failed to fetch group %s: %w", groupJID, err)
	}

	// Never overwrite a known name with an unknown one.
	if groupName != "" && (!group.GroupName.Valid || group.GroupName.String != groupName) {
		group.GroupName = sql.NullString{String: groupName, Valid: true}
		group.UpdatedAt = time.Now().UTC()

		_, err := s.db.NamedExecContext(ctx,
			`UPDATE groups SET group_name = :group_name, updated_at = :updated_at WHERE group_jid = :group_jid`, &group)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error updating group name", "group_jid", groupJID, "error", err)
			return nil, fmt.Errorf("failed to update group name for %s: %w", groupJID, err)
		}
		s.logger.InfoContext(ctx, "Updated group name", "group_jid", groupJID, "group_name", groupName)
	}

	return &group, nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) (bool, error) {
	if message == nil {
		return false, fmt.Errorf("cannot save nil message")
	}
	if message.MessageID == "" {
		return false, fmt.Errorf("message must have a non-empty message_id")
	}
	if message.GroupJID == "" {
		return false, fmt.Errorf("message must have a non-empty group_jid")
	}
	if message.Content == "" {
		return false, fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return false, fmt.Errorf("message must have a non-zero timestamp")
	}

	// Idempotency check first: duplicate delivery is a silent no-op.
	var existingID uint
	err := s.db.GetContext(ctx, &existingID,
		`SELECT id FROM messages WHERE message_id = ? LIMIT 1`, message.MessageID)
	if err == nil {
		s.logger.DebugContext(ctx, "Message already exists, skipping", "message_id", message.MessageID)
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking for existing message", "message_id", message.MessageID, "error", err)
		return false, fmt.Errorf("failed to check message %s: %w", message.MessageID, err)
	}

	if message.MessageType == "" {
		message.MessageType = "text"
	}
	// All times are bound in UTC so SQLite's text comparisons order them
	// correctly regardless of the caller's zone.
	message.Timestamp = message.Timestamp.UTC()
	message.CreatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO messages (message_id, group_jid, sender_jid, sender_name, content, message_type, timestamp, created_at)
        VALUES (:message_id, :group_jid, :sender_jid, :sender_name, :content, :message_type, :timestamp, :created_at);
    `, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"message_id", message.MessageID, "group_jid", message.GroupJID, "error", err)
		return false, fmt.Errorf("failed to save message %s: %w", message.MessageID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"message_id", message.MessageID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"message_id", message.MessageID, "group_jid", message.GroupJID, "sender_jid", message.SenderJID)
	return true, nil
}

func (s *sqlxStore) MessagesSince(ctx context.Context, groupJID string, since time.Time, excludeSenderJID string) ([]*Message, error) {
	if groupJID == "" {
		return nil, fmt.Errorf("group JID cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	query := `
        SELECT id, message_id, group_jid, sender_jid, sender_name, content, message_type, timestamp, created_at, embedding
        FROM messages
        WHERE group_jid = ? AND timestamp >= ?`
	args := []any{groupJID, since.UTC()}

	if excludeSenderJID != "" {
		query += ` AND sender_jid != ?`
		args = append(args, excludeSenderJID)
	}
	query += ` ORDER BY timestamp ASC;`

	var messages []*Message
	err := s.db.SelectContext(ctx, &messages, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages since cutoff",
			"group_jid", groupJID, "since", since, "error", err)
		return nil, fmt.Errorf("failed to get messages for group %s: %w", groupJID, err)
	}

	s.logger.DebugContext(ctx, "Fetched messages since cutoff",
		"group_jid", groupJID, "since", since, "count", len(messages))
	return messages, nil
}

func (s *sqlxStore) ManagedGroups(ctx context.Context) ([]*Group, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var groups []*Group
	err := s.db.SelectContext(ctx, &groups,
		`SELECT id, created_at, updated_at, group_jid, group_name, managed, last_summary_sync
		 FROM groups WHERE managed = TRUE ORDER BY id ASC`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting managed groups", "error", err)
		return nil, fmt.Errorf("failed to get managed groups: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched managed groups", "count", len(groups))
	return groups, nil
}

func (s *sqlxStore) InsertSummaryLog(ctx context.Context, log *SummaryLog) error {
	if log == nil {
		return fmt.Errorf("cannot insert nil summary log")
	}
	if log.GroupJID == "" {
		return fmt.Errorf("summary log must have a non-empty group_jid")
	}

	log.StartTime = log.StartTime.UTC()
	log.EndTime = log.EndTime.UTC()
	log.CreatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO summary_logs (group_jid, summary_text, message_count, start_time, end_time, sent_successfully, error_message, created_at)
        VALUES (:group_jid, :summary_text, :message_count, :start_time, :end_time, :sent_successfully, :error_message, :created_at);
    `, log)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting summary log", "group_jid", log.GroupJID, "error", err)
		return fmt.Errorf("failed to insert summary log for group %s: %w", log.GroupJID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		log.ID = uint(id)
	}

	s.logger.DebugContext(ctx, "Summary log inserted",
		"group_jid", log.GroupJID, "message_count", log.MessageCount, "failed", log.ErrorMessage.Valid)
	return nil
}

func (s *sqlxStore) LatestSummaryLog(ctx context.Context, groupJID string) (*SummaryLog, error) {
	if groupJID == "" {
		return nil, fmt.Errorf("group JID cannot be empty")
	}

	var log SummaryLog
	err := s.db.GetContext(ctx, &log, `
        SELECT id, group_jid, summary_text, message_count, start_time, end_time, sent_successfully, error_message, created_at
        FROM summary_logs
        WHERE group_jid = ?
        ORDER BY created_at DESC, id DESC
        LIMIT 1;
    `, groupJID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No summary log found", "group_jid", groupJID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting latest summary log", "group_jid", groupJID, "error", err)
		return nil, fmt.Errorf("failed to get latest summary log for group %s: %w", groupJID, err)
	}

	return &log, nil
}

func (s *sqlxStore) MarkSummaryLogsSent(ctx context.Context, logIDs []uint) error {
	if len(logIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE summary_logs SET sent_successfully = TRUE WHERE id IN (?)`, logIDs)
	if err != nil {
		return fmt.Errorf("failed to build query for marking summary logs: %w", err)
	}

	query = s.db.Rebind(query)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking summary logs as sent", "error", err)
		return fmt.Errorf("failed to mark summary logs as sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count", "error", err)
	} else if int(affected) != len(logIDs) {
		s.logger.WarnContext(ctx, "Not all summary logs were marked as sent",
			"requested", len(logIDs), "affected", affected)
	}

	s.logger.DebugContext(ctx, "Marked summary logs as sent", "count", len(logIDs))
	return nil
}

func (s *sqlxStore) AdvanceSummarySync(ctx context.Context, groupJIDs []string, syncTime time.Time) error {
	if len(groupJIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for watermark advance", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	// Bound in UTC so the stored text compares consistently with message
	// timestamps; the watermark is monotonic and a concurrent later sync
	// must not be undone.
	syncTime = syncTime.UTC()
	query, args, err := sqlx.In(
		`UPDATE groups SET last_summary_sync = ?, updated_at = ?
		 WHERE group_jid IN (?) AND last_summary_sync < ?`,
		syncTime, time.Now().UTC(), groupJIDs, syncTime)
	if err != nil {
		return fmt.Errorf("failed to build query for watermark advance: %w", err)
	}

	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error advancing summary sync watermarks", "error", err)
		return fmt.Errorf("failed to advance summary sync watermarks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit watermark advance", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Advanced summary sync watermarks",
		"group_count", len(groupJIDs), "sync_time", syncTime)
	return nil
}

func (s *sqlxStore) SetMessageEmbedding(ctx context.Context, messageID string, embedding []byte) error {
	if messageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET embedding = ? WHERE message_id = ? AND embedding IS NULL`,
		embedding, messageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error storing message embedding", "message_id", messageID, "error", err)
		return fmt.Errorf("failed to store embedding for message %s: %w", messageID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "Embedding already present or message missing, skipping",
			"message_id", messageID)
	}
	return nil
}

func (s *sqlxStore) CountGroups(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM groups WHERE managed = TRUE`); err != nil {
		return 0, fmt.Errorf("failed to count groups: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages`); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
