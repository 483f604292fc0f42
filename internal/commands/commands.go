package commands

import (
	"context"
	"fmt"

	"sikumbot/internal/config"
	"sikumbot/internal/database"
	"sikumbot/internal/summarizer"
	"sikumbot/internal/whatsapp"
)

// summaryRunner is the slice of the digest service the commands need.
type summaryRunner interface {
	Run(ctx context.Context, force bool) (bool, error)
}

// RegisterDefaults wires the built-in commands: every configured summary
// keyword triggers an on-demand digest, and "stats" reports store counts.
func RegisterDefaults(r *Router, service summaryRunner, store database.Store, cfg config.SummaryConfig) {
	summaryCmd := summaryCommand(r, service)
	for _, keyword := range cfg.Keywords {
		r.Register(keyword, summaryCmd)
	}
	r.Register("stats", statsCommand(r, store))
}

// summaryCommand acknowledges the request, runs a forced digest batch over
// the current day, and reports back when there was nothing to send.
func summaryCommand(r *Router, service summaryRunner) Handler {
	return func(ctx context.Context, msg *whatsapp.IncomingMessage) error {
		if err := r.sender.SendMessage(ctx, msg.SenderJID, "⏳ מכין סיכום של היום..."); err != nil {
			r.log.WarnContext(ctx, "Failed to send summary acknowledgement", "error", err)
		}

		sent, err := service.Run(ctx, true)
		if err != nil {
			return fmt.Errorf("on-demand summary failed: %w", err)
		}

		if !sent {
			return r.sender.SendMessage(ctx, msg.SenderJID, "אין הודעות חדשות היום בקבוצות המנוטרות.")
		}
		return nil
	}
}

// statsCommand replies with the current group and message counts.
func statsCommand(r *Router, store database.Store) Handler {
	return func(ctx context.Context, msg *whatsapp.IncomingMessage) error {
		groups, err := store.CountGroups(ctx)
		if err != nil {
			return fmt.Errorf("failed to count groups: %w", err)
		}
		messages, err := store.CountMessages(ctx)
		if err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}

		reply := fmt.Sprintf("📊 Monitoring %d groups, %d messages stored.", groups, messages)
		return r.sender.SendMessage(ctx, msg.SenderJID, reply)
	}
}

var _ summaryRunner = (*summarizer.Service)(nil)
