package bot

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sikumbot/internal/commands"
	"sikumbot/internal/database"
	"sikumbot/internal/whatsapp"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const botJID = "972500000000@s.whatsapp.net"

// pipelineStore records group and message writes for the pipeline tests.
type pipelineStore struct {
	mu          sync.Mutex
	groups      map[string]string
	saved       []*database.Message
	saveDup     bool
	saveErr     error
	ensureErr   error
	ensureCalls int
}

func newPipelineStore() *pipelineStore {
	return &pipelineStore{groups: map[string]string{}}
}

func (p *pipelineStore) Ping(context.Context) error { return nil }

func (p *pipelineStore) EnsureGroup(_ context.Context, jid, name string) (*database.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureCalls++
	if p.ensureErr != nil {
		return nil, p.ensureErr
	}
	p.groups[jid] = name
	g := &database.Group{GroupJID: jid, Managed: true}
	if name != "" {
		g.GroupName = sql.NullString{String: name, Valid: true}
	}
	return g, nil
}

func (p *pipelineStore) SaveMessage(_ context.Context, m *database.Message) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return false, p.saveErr
	}
	if p.saveDup {
		return false, nil
	}
	p.saved = append(p.saved, m)
	return true, nil
}

func (p *pipelineStore) MessagesSince(context.Context, string, time.Time, string) ([]*database.Message, error) {
	return nil, nil
}
func (p *pipelineStore) ManagedGroups(context.Context) ([]*database.Group, error) { return nil, nil }
func (p *pipelineStore) InsertSummaryLog(context.Context, *database.SummaryLog) error {
	return nil
}
func (p *pipelineStore) LatestSummaryLog(context.Context, string) (*database.SummaryLog, error) {
	return nil, nil
}
func (p *pipelineStore) MarkSummaryLogsSent(context.Context, []uint) error             { return nil }
func (p *pipelineStore) AdvanceSummarySync(context.Context, []string, time.Time) error { return nil }
func (p *pipelineStore) SetMessageEmbedding(context.Context, string, []byte) error     { return nil }
func (p *pipelineStore) CountGroups(context.Context) (int64, error)                    { return 0, nil }
func (p *pipelineStore) CountMessages(context.Context) (int64, error)                  { return 0, nil }

func (p *pipelineStore) savedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.saved))
	for _, m := range p.saved {
		ids = append(ids, m.MessageID)
	}
	return ids
}

type recordingEmbedder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingEmbedder) Enqueue(messageID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, messageID)
}

func (r *recordingEmbedder) enqueued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type noopSender struct{}

func (noopSender) SendMessage(context.Context, string, string) error { return nil }

func groupMessage(id string) *whatsapp.IncomingMessage {
	return &whatsapp.IncomingMessage{
		MessageID:  id,
		ChatJID:    "120363-1@g.us",
		ChatName:   "Family",
		SenderJID:  "972501234567@s.whatsapp.net",
		SenderName: "Alice",
		Content:    "hello",
		Timestamp:  time.Now(),
		IsGroup:    true,
	}
}

func runPipeline(t *testing.T, p *Pipeline) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pipeline did not stop")
		}
	}
}

func TestPipelineSavesGroupMessage(t *testing.T) {
	store := newPipelineStore()
	embedder := &recordingEmbedder{}
	router := commands.NewRouter(noopSender{}, "1@s.whatsapp.net", testLogger)
	pipeline := NewPipeline(store, router, embedder, botJID, 8, testLogger)

	stop := runPipeline(t, pipeline)
	require.True(t, pipeline.Enqueue(groupMessage("m1")))

	require.Eventually(t, func() bool {
		return len(store.savedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	store.mu.Lock()
	saved := store.saved[0]
	groupName := store.groups["120363-1@g.us"]
	store.mu.Unlock()

	assert.Equal(t, "m1", saved.MessageID)
	assert.Equal(t, "120363-1@g.us", saved.GroupJID)
	assert.Equal(t, "Alice", saved.SenderName.String)
	assert.Equal(t, "Family", groupName)
	assert.Equal(t, []string{"m1"}, embedder.enqueued())
}

func TestPipelineDropsOwnEcho(t *testing.T) {
	store := newPipelineStore()
	router := commands.NewRouter(noopSender{}, "1@s.whatsapp.net", testLogger)
	pipeline := NewPipeline(store, router, nil, botJID, 8, testLogger)

	msg := groupMessage("m1")
	msg.SenderJID = botJID

	stop := runPipeline(t, pipeline)
	pipeline.Enqueue(msg)
	pipeline.Enqueue(groupMessage("m2"))

	require.Eventually(t, func() bool {
		return len(store.savedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{"m2"}, store.savedIDs())
}

func TestPipelineDuplicateSkipsEmbedding(t *testing.T) {
	store := newPipelineStore()
	store.saveDup = true
	embedder := &recordingEmbedder{}
	router := commands.NewRouter(noopSender{}, "1@s.whatsapp.net", testLogger)
	pipeline := NewPipeline(store, router, embedder, botJID, 8, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipeline.Run(ctx)
	}()

	pipeline.Enqueue(groupMessage("m1"))
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, embedder.enqueued(), "duplicates must not be re-embedded")
}

func TestPipelineRoutesDirectMessages(t *testing.T) {
	store := newPipelineStore()
	router := commands.NewRouter(noopSender{}, "972501234567@s.whatsapp.net", testLogger)

	var commandRan sync.WaitGroup
	commandRan.Add(1)
	router.Register("summary", func(context.Context, *whatsapp.IncomingMessage) error {
		commandRan.Done()
		return nil
	})

	pipeline := NewPipeline(store, router, nil, botJID, 8, testLogger)
	stop := runPipeline(t, pipeline)

	pipeline.Enqueue(&whatsapp.IncomingMessage{
		MessageID: "dm1",
		ChatJID:   "972501234567@s.whatsapp.net",
		SenderJID: "972501234567@s.whatsapp.net",
		Content:   "summary",
		Timestamp: time.Now(),
	})

	waitDone := make(chan struct{})
	go func() {
		commandRan.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("direct message was not routed to the command")
	}
	stop()

	assert.Empty(t, store.savedIDs(), "direct messages are not persisted")
}

func TestPipelineEnqueueDropsWhenFull(t *testing.T) {
	store := newPipelineStore()
	router := commands.NewRouter(noopSender{}, "1@s.whatsapp.net", testLogger)
	pipeline := NewPipeline(store, router, nil, botJID, 1, testLogger)

	// Pipeline not running; second enqueue must report the drop.
	assert.True(t, pipeline.Enqueue(groupMessage("m1")))
	assert.False(t, pipeline.Enqueue(groupMessage("m2")))
}

func TestPipelineSurvivesStoreErrors(t *testing.T) {
	store := newPipelineStore()
	store.ensureErr = errors.New("disk full")
	router := commands.NewRouter(noopSender{}, "1@s.whatsapp.net", testLogger)
	pipeline := NewPipeline(store, router, nil, botJID, 8, testLogger)

	stop := runPipeline(t, pipeline)
	pipeline.Enqueue(groupMessage("m1"))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.ensureCalls == 1
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	store.ensureErr = nil
	store.mu.Unlock()
	pipeline.Enqueue(groupMessage("m2"))

	require.Eventually(t, func() bool {
		return len(store.savedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{"m2"}, store.savedIDs())
}
