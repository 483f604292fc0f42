package database

import (
	"database/sql"
	"strings"
	"time"
)

// Group represents a WhatsApp group being monitored for daily digests.
// The LastSummarySync watermark marks the end of the last successfully
// delivered summary window and only ever moves forward.
type Group struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	GroupJID        string         `db:"group_jid"`
	GroupName       sql.NullString `db:"group_name"`
	Managed         bool           `db:"managed"`
	LastSummarySync time.Time      `db:"last_summary_sync"`
}

// DisplayName returns the group name, falling back to the JID when unknown.
func (g *Group) DisplayName() string {
	if g.GroupName.Valid && g.GroupName.String != "" {
		return g.GroupName.String
	}
	return g.GroupJID
}

// Message represents a single WhatsApp group message. MessageID is the
// provider-assigned identifier and serves as the idempotency key: a message
// is stored at most once. Rows are immutable after creation except for the
// derived embedding, which is written once, best effort, by the background
// embedding worker.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	MessageID   string         `db:"message_id"`
	GroupJID    string         `db:"group_jid"`
	SenderJID   string         `db:"sender_jid"`
	SenderName  sql.NullString `db:"sender_name"`
	Content     string         `db:"content"`
	MessageType string         `db:"message_type"`
	Timestamp   time.Time      `db:"timestamp"`
	Embedding   []byte         `db:"embedding"`
}

// SenderDisplayName returns the sender's push name, falling back to the
// phone-number part of the JID.
func (m *Message) SenderDisplayName() string {
	if m.SenderName.Valid && m.SenderName.String != "" {
		return m.SenderName.String
	}
	if idx := strings.IndexByte(m.SenderJID, '@'); idx >= 0 {
		return m.SenderJID[:idx]
	}
	return m.SenderJID
}

// SummaryLog is the append-only audit trail of summarization attempts.
// One row is written per attempt, failed ones included (empty SummaryText
// plus ErrorMessage). It is the only artifact proving a digest was generated
// for a given time window.
type SummaryLog struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	GroupJID         string         `db:"group_jid"`
	SummaryText      string         `db:"summary_text"`
	MessageCount     int            `db:"message_count"`
	StartTime        time.Time      `db:"start_time"`
	EndTime          time.Time      `db:"end_time"`
	SentSuccessfully bool           `db:"sent_successfully"`
	ErrorMessage     sql.NullString `db:"error_message"`
}
