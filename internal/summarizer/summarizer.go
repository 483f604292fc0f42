// Package summarizer implements the digest pipeline: per-group summary
// generation and the delivery coordinator that sends one consolidated
// message and advances the per-group watermarks.
package summarizer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sikumbot/internal/config"
	"sikumbot/internal/database"
	"sikumbot/internal/gemini"
)

// Status classifies the outcome of summarizing one group.
type Status string

const (
	// StatusSummarized means a digest was generated and logged.
	StatusSummarized Status = "summarized"
	// StatusSkipped means the group had no eligible window (zero messages,
	// or below the minimum threshold on a scheduled run). No log is written.
	StatusSkipped Status = "skipped"
	// StatusFailed means generation or persistence failed. A failed
	// generation still produces a SummaryLog row with the error recorded.
	StatusFailed Status = "failed"
)

// GroupOutcome is the result of one group's pass through the engine.
type GroupOutcome struct {
	Group  *database.Group
	Status Status
	Log    *database.SummaryLog
	Err    error
}

// Engine selects each group's unsent message window, generates a digest via
// the LLM, and records every attempt in the summary log. It never advances
// watermarks; that is the delivery coordinator's job.
type Engine struct {
	store  database.Store
	ai     gemini.Client
	log    *slog.Logger
	cfg    config.SummaryConfig
	loc    *time.Location
	botJID string
	now    func() time.Time
}

// NewEngine creates a summarization engine. botJID, when non-empty, excludes
// the bot's own messages from every window.
func NewEngine(store database.Store, ai gemini.Client, cfg config.SummaryConfig, botJID string, log *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid summary timezone %q: %w", cfg.Timezone, err)
	}

	return &Engine{
		store:  store,
		ai:     ai,
		log:    log.With("component", "summarizer"),
		cfg:    cfg,
		loc:    loc,
		botJID: botJID,
		now:    time.Now,
	}, nil
}

// Location returns the engine's configured timezone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// SummarizeGroup runs one group through the window-select, threshold-check,
// format, generate, persist-log sequence. A forced run uses the current
// calendar day instead of the watermark and bypasses the minimum threshold,
// but still skips on an empty window without writing a log.
func (e *Engine) SummarizeGroup(ctx context.Context, group *database.Group, force bool) GroupOutcome {
	log := e.log.With("group_jid", group.GroupJID, "group_name", group.DisplayName())

	since := group.LastSummarySync
	if force {
		since = startOfDay(e.now().In(e.loc))
	}

	messages, err := e.store.MessagesSince(ctx, group.GroupJID, since, e.botJID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch message window", "since", since, "error", err)
		return GroupOutcome{Group: group, Status: StatusFailed, Err: err}
	}

	if len(messages) == 0 {
		log.InfoContext(ctx, "No messages in window, skipping", "forced", force)
		return GroupOutcome{Group: group, Status: StatusSkipped}
	}
	if !force && len(messages) < e.cfg.MinMessages {
		log.InfoContext(ctx, "Below minimum message threshold, skipping",
			"count", len(messages), "min_messages", e.cfg.MinMessages)
		return GroupOutcome{Group: group, Status: StatusSkipped}
	}

	if len(messages) > e.cfg.MaxMessages {
		log.WarnContext(ctx, "Window exceeds message cap, keeping most recent",
			"count", len(messages), "max_messages", e.cfg.MaxMessages)
		messages = capMessages(messages, e.cfg.MaxMessages)
	}

	transcript := FormatTranscript(messages)
	startTime := messages[0].Timestamp
	endTime := messages[len(messages)-1].Timestamp

	summaryLog := &database.SummaryLog{
		GroupJID:     group.GroupJID,
		MessageCount: len(messages),
		StartTime:    startTime,
		EndTime:      endTime,
	}

	summary, genErr := e.ai.GenerateSummary(ctx, group.DisplayName(), transcript)
	if genErr != nil {
		// The failed attempt is still recorded; the batch moves on.
		log.ErrorContext(ctx, "Digest generation failed", "error", genErr)
		summaryLog.ErrorMessage = sql.NullString{String: genErr.Error(), Valid: true}

		if err := e.store.InsertSummaryLog(ctx, summaryLog); err != nil {
			log.ErrorContext(ctx, "Failed to persist failed summary log", "error", err)
			return GroupOutcome{Group: group, Status: StatusFailed, Err: err}
		}
		return GroupOutcome{Group: group, Status: StatusFailed, Log: summaryLog, Err: genErr}
	}

	summaryLog.SummaryText = summary
	if err := e.store.InsertSummaryLog(ctx, summaryLog); err != nil {
		log.ErrorContext(ctx, "Failed to persist summary log", "error", err)
		return GroupOutcome{Group: group, Status: StatusFailed, Err: err}
	}

	log.InfoContext(ctx, "Digest generated",
		"message_count", len(messages), "start_time", startTime, "end_time", endTime)
	return GroupOutcome{Group: group, Status: StatusSummarized, Log: summaryLog}
}

// RunAll summarizes every managed group. One group's failure does not abort
// the others; the returned outcomes preserve group enumeration order.
func (e *Engine) RunAll(ctx context.Context, force bool) ([]GroupOutcome, error) {
	groups, err := e.store.ManagedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed groups: %w", err)
	}
	if len(groups) == 0 {
		e.log.WarnContext(ctx, "No managed groups found")
		return nil, nil
	}

	e.log.InfoContext(ctx, "Summarizing managed groups", "count", len(groups), "forced", force)

	outcomes := make([]GroupOutcome, 0, len(groups))
	for _, group := range groups {
		outcomes = append(outcomes, e.SummarizeGroup(ctx, group, force))
	}
	return outcomes, nil
}

// Service couples the engine and the delivery coordinator into the single
// batch entry point shared by the scheduler and the on-demand command.
// A mutex serializes batch runs so a scheduled run and an on-demand run
// cannot race on the same groups.
type Service struct {
	engine      *Engine
	coordinator *Coordinator
	log         *slog.Logger
	mu          sync.Mutex
}

// NewService creates the batch runner from an engine and a coordinator.
func NewService(engine *Engine, coordinator *Coordinator, log *slog.Logger) *Service {
	return &Service{
		engine:      engine,
		coordinator: coordinator,
		log:         log.With("component", "summary_service"),
	}
}

// Run executes one full batch: summarize all managed groups, then deliver
// the consolidated digest. It reports whether anything was sent.
func (s *Service) Run(ctx context.Context, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startTime := time.Now()
	s.log.InfoContext(ctx, "Summary batch started", "forced", force)

	outcomes, err := s.engine.RunAll(ctx, force)
	if err != nil {
		return false, err
	}

	sent, err := s.coordinator.Deliver(ctx, outcomes)
	if err != nil {
		return false, err
	}

	s.log.InfoContext(ctx, "Summary batch finished",
		"forced", force, "sent", sent, "groups", len(outcomes), "duration", time.Since(startTime))
	return sent, nil
}
