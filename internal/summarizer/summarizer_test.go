package summarizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sikumbot/internal/config"
	"sikumbot/internal/database"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeStore is an in-memory Store for exercising the digest pipeline.
type fakeStore struct {
	groups       []*database.Group
	messages     map[string][]*database.Message
	insertedLogs []*database.SummaryLog
	markedSent   []uint
	advancedJIDs []string
	advancedTo   time.Time

	messagesErr error
	insertErr   error
	nextLogID   uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string][]*database.Message{}}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) EnsureGroup(_ context.Context, jid, name string) (*database.Group, error) {
	g := &database.Group{GroupJID: jid, Managed: true}
	if name != "" {
		g.GroupName = sql.NullString{String: name, Valid: true}
	}
	f.groups = append(f.groups, g)
	return g, nil
}

func (f *fakeStore) SaveMessage(context.Context, *database.Message) (bool, error) {
	return true, nil
}

func (f *fakeStore) MessagesSince(_ context.Context, groupJID string, since time.Time, excludeSenderJID string) ([]*database.Message, error) {
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	var out []*database.Message
	for _, m := range f.messages[groupJID] {
		if m.Timestamp.Before(since) {
			continue
		}
		if excludeSenderJID != "" && m.SenderJID == excludeSenderJID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) ManagedGroups(context.Context) ([]*database.Group, error) {
	return f.groups, nil
}

func (f *fakeStore) InsertSummaryLog(_ context.Context, log *database.SummaryLog) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextLogID++
	log.ID = f.nextLogID
	f.insertedLogs = append(f.insertedLogs, log)
	return nil
}

func (f *fakeStore) LatestSummaryLog(context.Context, string) (*database.SummaryLog, error) {
	if len(f.insertedLogs) == 0 {
		return nil, nil
	}
	return f.insertedLogs[len(f.insertedLogs)-1], nil
}

func (f *fakeStore) MarkSummaryLogsSent(_ context.Context, logIDs []uint) error {
	f.markedSent = append(f.markedSent, logIDs...)
	return nil
}

func (f *fakeStore) AdvanceSummarySync(_ context.Context, groupJIDs []string, syncTime time.Time) error {
	f.advancedJIDs = append(f.advancedJIDs, groupJIDs...)
	f.advancedTo = syncTime
	return nil
}

func (f *fakeStore) SetMessageEmbedding(context.Context, string, []byte) error { return nil }
func (f *fakeStore) CountGroups(context.Context) (int64, error)               { return int64(len(f.groups)), nil }
func (f *fakeStore) CountMessages(context.Context) (int64, error)             { return 0, nil }

// fakeAI returns a canned digest or a canned error and records transcripts.
type fakeAI struct {
	summary     string
	err         error
	transcripts []string
	groupNames  []string
}

func (f *fakeAI) GenerateSummary(_ context.Context, groupName, transcript string) (string, error) {
	f.groupNames = append(f.groupNames, groupName)
	f.transcripts = append(f.transcripts, transcript)
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func (f *fakeAI) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

// fakeSender records sends and can fail on demand.
type fakeSender struct {
	err   error
	sends []string
	texts []string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, chatID)
	f.texts = append(f.texts, text)
	return nil
}

func testSummaryConfig() config.SummaryConfig {
	return config.SummaryConfig{
		RecipientPhone: "+972501234567",
		ScheduleHour:   20,
		Timezone:       "UTC",
		MinMessages:    3,
		MaxMessages:    100,
		Keywords:       []string{"summary"},
	}
}

func newTestEngine(t *testing.T, store *fakeStore, ai *fakeAI, cfg config.SummaryConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(store, ai, cfg, "bot@s.whatsapp.net", testLogger)
	require.NoError(t, err)
	return engine
}

func testGroup(jid, name string, lastSync time.Time) *database.Group {
	g := &database.Group{GroupJID: jid, Managed: true, LastSummarySync: lastSync}
	if name != "" {
		g.GroupName = sql.NullString{String: name, Valid: true}
	}
	return g
}

func addMessages(store *fakeStore, groupJID string, base time.Time, count int) {
	for i := 0; i < count; i++ {
		store.messages[groupJID] = append(store.messages[groupJID], &database.Message{
			MessageID: fmt.Sprintf("%s-msg-%d", groupJID, i),
			GroupJID:  groupJID,
			SenderJID: "111@s.whatsapp.net",
			SenderName: sql.NullString{
				String: "Alice", Valid: true,
			},
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestNewEngineRejectsBadTimezone(t *testing.T) {
	cfg := testSummaryConfig()
	cfg.Timezone = "Not/AZone"

	_, err := NewEngine(newFakeStore(), &fakeAI{}, cfg, "", testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestSummarizeGroupSkipsBelowThreshold(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	group := testGroup("g1@g.us", "Family", base.Add(-time.Hour))
	addMessages(store, "g1@g.us", base, 2) // below MinMessages of 3

	outcome := engine.SummarizeGroup(context.Background(), group, false)

	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Nil(t, outcome.Log)
	assert.Empty(t, store.insertedLogs, "skip must not write a summary log")
	assert.Empty(t, ai.transcripts, "skip must not call the model")
}

func TestSummarizeGroupForcedBypassesThreshold(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC) }

	// Two messages today: below threshold, but a forced run takes them anyway.
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	group := testGroup("g1@g.us", "Family", base.Add(48*time.Hour))
	addMessages(store, "g1@g.us", base, 2)

	outcome := engine.SummarizeGroup(context.Background(), group, true)

	assert.Equal(t, StatusSummarized, outcome.Status)
	require.NotNil(t, outcome.Log)
	assert.Equal(t, 2, outcome.Log.MessageCount)
	assert.Equal(t, "digest", outcome.Log.SummaryText)
}

func TestSummarizeGroupForcedUsesCalendarDayWindow(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC) }

	group := testGroup("g1@g.us", "Family", time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	// Yesterday's messages fall outside the forced calendar-day window.
	addMessages(store, "g1@g.us", time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC), 5)
	addMessages(store, "g1@g.us", time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC), 4)

	outcome := engine.SummarizeGroup(context.Background(), group, true)

	require.Equal(t, StatusSummarized, outcome.Status)
	assert.Equal(t, 4, outcome.Log.MessageCount)
}

func TestSummarizeGroupForcedEmptyWindowSkipsWithoutLog(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC) }

	group := testGroup("g1@g.us", "Family", time.Time{})

	outcome := engine.SummarizeGroup(context.Background(), group, true)

	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Empty(t, store.insertedLogs)
}

func TestSummarizeGroupExcludesBotMessages(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	group := testGroup("g1@g.us", "Family", base.Add(-time.Hour))
	addMessages(store, "g1@g.us", base, 5)
	store.messages["g1@g.us"] = append(store.messages["g1@g.us"], &database.Message{
		MessageID: "bot-echo",
		GroupJID:  "g1@g.us",
		SenderJID: "bot@s.whatsapp.net",
		Content:   "the bot's own message",
		Timestamp: base.Add(10 * time.Minute),
	})

	outcome := engine.SummarizeGroup(context.Background(), group, false)

	require.Equal(t, StatusSummarized, outcome.Status)
	assert.Equal(t, 5, outcome.Log.MessageCount)
	assert.NotContains(t, ai.transcripts[0], "the bot's own message")
}

func TestSummarizeGroupCapsToMostRecent(t *testing.T) {
	cfg := testSummaryConfig()
	cfg.MaxMessages = 10

	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, cfg)

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	group := testGroup("g1@g.us", "Family", base.Add(-time.Hour))
	addMessages(store, "g1@g.us", base, 25)

	outcome := engine.SummarizeGroup(context.Background(), group, false)

	require.Equal(t, StatusSummarized, outcome.Status)
	assert.Equal(t, 10, outcome.Log.MessageCount)
	// Oldest dropped, newest kept.
	assert.NotContains(t, ai.transcripts[0], "message 14")
	assert.Contains(t, ai.transcripts[0], "message 15")
	assert.Contains(t, ai.transcripts[0], "message 24")
	assert.Equal(t, base.Add(15*time.Minute), outcome.Log.StartTime)
	assert.Equal(t, base.Add(24*time.Minute), outcome.Log.EndTime)
}

func TestSummarizeGroupGenerationFailureLogsAttempt(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{err: errors.New("model unavailable")}
	engine := newTestEngine(t, store, ai, testSummaryConfig())

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	group := testGroup("g1@g.us", "Family", base.Add(-time.Hour))
	addMessages(store, "g1@g.us", base, 5)

	outcome := engine.SummarizeGroup(context.Background(), group, false)

	assert.Equal(t, StatusFailed, outcome.Status)
	require.Len(t, store.insertedLogs, 1)
	failedLog := store.insertedLogs[0]
	assert.Empty(t, failedLog.SummaryText)
	assert.True(t, failedLog.ErrorMessage.Valid)
	assert.Contains(t, failedLog.ErrorMessage.String, "model unavailable")
	assert.Equal(t, 5, failedLog.MessageCount)
	assert.False(t, failedLog.SentSuccessfully)
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	store := newFakeStore()
	ai := &fakeAI{summary: "digest"}
	engine := newTestEngine(t, store, ai, testSummaryConfig())

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	store.groups = []*database.Group{
		testGroup("g1@g.us", "One", base.Add(-time.Hour)),
		testGroup("g2@g.us", "Two", base.Add(-time.Hour)),
		testGroup("g3@g.us", "Three", base.Add(-time.Hour)),
	}
	addMessages(store, "g1@g.us", base, 5)
	// g2 has nothing, g3 has enough.
	addMessages(store, "g3@g.us", base, 8)

	outcomes, err := engine.RunAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, StatusSummarized, outcomes[0].Status)
	assert.Equal(t, StatusSkipped, outcomes[1].Status)
	assert.Equal(t, StatusSummarized, outcomes[2].Status)
}

func TestRunAllNoManagedGroups(t *testing.T) {
	engine := newTestEngine(t, newFakeStore(), &fakeAI{}, testSummaryConfig())

	outcomes, err := engine.RunAll(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
