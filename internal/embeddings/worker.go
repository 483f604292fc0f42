// Package embeddings runs the best-effort embedding side-channel: stored
// messages are queued after ingestion and their embedding vectors computed
// and persisted in the background. Failures here never affect the message
// pipeline.
package embeddings

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"

	"sikumbot/internal/database"
	"sikumbot/internal/gemini"
)

type task struct {
	messageID string
	content   string
}

// Worker consumes queued messages one at a time and stores their embeddings.
// The queue is bounded; when it is full new tasks are dropped rather than
// blocking the ingestion pipeline.
type Worker struct {
	store database.Store
	ai    gemini.Client
	log   *slog.Logger
	queue chan task
}

// NewWorker creates an embedding worker with a bounded queue.
func NewWorker(store database.Store, ai gemini.Client, queueSize int, log *slog.Logger) *Worker {
	return &Worker{
		store: store,
		ai:    ai,
		log:   log.With("component", "embeddings"),
		queue: make(chan task, queueSize),
	}
}

// Enqueue submits a stored message for embedding. It never blocks; a full
// queue drops the task and logs the drop.
func (w *Worker) Enqueue(messageID, content string) {
	select {
	case w.queue <- task{messageID: messageID, content: content}:
	default:
		w.log.Warn("Embedding queue full, dropping task", "message_id", messageID)
	}
}

// Run processes the queue until ctx is cancelled, then drains whatever is
// already queued before returning. Per-task failures are logged and
// swallowed; the worker keeps going.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Embedding worker started", "queue_capacity", cap(w.queue))

	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.log.Info("Embedding worker stopped")
			return nil
		case t := <-w.queue:
			w.process(ctx, t)
		}
	}
}

// drain processes the remaining queue with a background context so in-flight
// work is not lost on shutdown.
func (w *Worker) drain() {
	for {
		select {
		case t := <-w.queue:
			w.process(context.Background(), t)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, t task) {
	vector, err := w.ai.Embed(ctx, t.content)
	if err != nil {
		w.log.WarnContext(ctx, "Failed to compute embedding", "message_id", t.messageID, "error", err)
		return
	}

	if err := w.store.SetMessageEmbedding(ctx, t.messageID, EncodeVector(vector)); err != nil {
		w.log.WarnContext(ctx, "Failed to store embedding", "message_id", t.messageID, "error", err)
		return
	}

	w.log.DebugContext(ctx, "Embedding stored", "message_id", t.messageID, "dimension", len(vector))
}

// EncodeVector serializes an embedding as little-endian float32 bytes.
func EncodeVector(vector []float32) []byte {
	out := make([]byte, 0, len(vector)*4)
	for _, v := range vector {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// DecodeVector deserializes little-endian float32 bytes back to a vector.
func DecodeVector(data []byte) []float32 {
	out := make([]float32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(data[i:i+4])))
	}
	return out
}
