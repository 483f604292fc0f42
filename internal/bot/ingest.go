package bot

import (
	"context"
	"log/slog"

	"sikumbot/internal/commands"
	"sikumbot/internal/database"
	"sikumbot/internal/whatsapp"
)

// Embedder is the slice of the embedding worker the pipeline needs. A nil
// Embedder disables the side-channel entirely.
type Embedder interface {
	Enqueue(messageID, content string)
}

// Pipeline is the single consumer behind the webhook queue. Group messages
// are persisted idempotently and forwarded to the embedding side-channel;
// direct messages go to the command router; the bot's own echoes are dropped.
type Pipeline struct {
	store    database.Store
	router   *commands.Router
	embedder Embedder
	log      *slog.Logger
	botJID   string
	queue    chan *whatsapp.IncomingMessage
}

// NewPipeline creates the ingestion pipeline with a bounded handoff queue.
func NewPipeline(store database.Store, router *commands.Router, embedder Embedder, botJID string, queueSize int, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		router:   router,
		embedder: embedder,
		log:      log.With("component", "ingest"),
		botJID:   botJID,
		queue:    make(chan *whatsapp.IncomingMessage, queueSize),
	}
}

// Enqueue hands a normalized message to the pipeline without blocking.
// It reports false when the queue is full and the message was dropped.
func (p *Pipeline) Enqueue(msg *whatsapp.IncomingMessage) bool {
	select {
	case p.queue <- msg:
		return true
	default:
		return false
	}
}

// Run consumes the queue until ctx is cancelled. Per-message failures are
// logged and do not stop the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("Ingestion pipeline started", "queue_capacity", cap(p.queue))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Ingestion pipeline stopped")
			return nil
		case msg := <-p.queue:
			p.process(ctx, msg)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, msg *whatsapp.IncomingMessage) {
	if msg.SenderJID == p.botJID {
		p.log.DebugContext(ctx, "Dropping own message echo", "message_id", msg.MessageID)
		return
	}

	if !msg.IsGroup {
		p.router.HandleDirect(ctx, msg)
		return
	}

	if _, err := p.store.EnsureGroup(ctx, msg.ChatJID, msg.ChatName); err != nil {
		p.log.ErrorContext(ctx, "Failed to ensure group",
			"group_jid", msg.ChatJID, "message_id", msg.MessageID, "error", err)
		return
	}

	record := &database.Message{
		MessageID:   msg.MessageID,
		GroupJID:    msg.ChatJID,
		SenderJID:   msg.SenderJID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		Timestamp:   msg.Timestamp,
	}
	if msg.SenderName != "" {
		record.SenderName.String = msg.SenderName
		record.SenderName.Valid = true
	}

	saved, err := p.store.SaveMessage(ctx, record)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to save message",
			"message_id", msg.MessageID, "group_jid", msg.ChatJID, "error", err)
		return
	}
	if !saved {
		// Duplicate delivery; already stored and possibly already embedded.
		return
	}

	if p.embedder != nil {
		p.embedder.Enqueue(msg.MessageID, msg.Content)
	}
}
