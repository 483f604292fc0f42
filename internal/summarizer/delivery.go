package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sikumbot/internal/database"
	"sikumbot/internal/whatsapp"
)

const (
	consolidatedHeaderFormat = "📱 סיכום יומי של קבוצות ווטסאפ - %s"
	consolidatedFooter       = "נוצר על ידי WhatsApp Groups Monitor"
	consolidatedDivider      = "=================================================="
)

// Coordinator delivers the consolidated digest and commits the batch. The
// send is the commit point: summary logs are marked sent and every
// considered group's watermark advances only after the API accepts the
// message. A failed send leaves all state untouched so the next run retries
// the same windows.
type Coordinator struct {
	store     database.Store
	sender    whatsapp.Sender
	log       *slog.Logger
	recipient string
	loc       *time.Location
	now       func() time.Time
}

// NewCoordinator creates the delivery coordinator. recipient is the single
// authorized digest recipient's phone or JID.
func NewCoordinator(store database.Store, sender whatsapp.Sender, recipient string, loc *time.Location, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		sender:    sender,
		log:       log.With("component", "delivery"),
		recipient: recipient,
		loc:       loc,
		now:       time.Now,
	}
}

// Deliver renders and sends one consolidated message covering every
// successfully summarized group, then marks the included logs as sent and
// advances the watermark for ALL considered groups, including skipped and
// failed ones. With no successful summaries it sends nothing and leaves all
// state untouched.
func (c *Coordinator) Deliver(ctx context.Context, outcomes []GroupOutcome) (bool, error) {
	var summarized []GroupOutcome
	for _, o := range outcomes {
		if o.Status == StatusSummarized {
			summarized = append(summarized, o)
		}
	}

	if len(summarized) == 0 {
		c.log.InfoContext(ctx, "No summaries to deliver", "groups_considered", len(outcomes))
		return false, nil
	}

	message := c.renderConsolidated(summarized)

	if err := c.sender.SendMessage(ctx, c.recipient, message); err != nil {
		c.log.ErrorContext(ctx, "Failed to deliver consolidated digest",
			"recipient", c.recipient, "sections", len(summarized), "error", err)
		return false, fmt.Errorf("failed to deliver consolidated digest: %w", err)
	}

	sentIDs := make([]uint, 0, len(summarized))
	for _, o := range summarized {
		if o.Log != nil && o.Log.ID != 0 {
			sentIDs = append(sentIDs, o.Log.ID)
		}
	}
	if err := c.store.MarkSummaryLogsSent(ctx, sentIDs); err != nil {
		c.log.ErrorContext(ctx, "Failed to mark summary logs as sent", "error", err)
		return true, err
	}

	syncTime := c.now().In(c.loc)
	groupJIDs := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		groupJIDs = append(groupJIDs, o.Group.GroupJID)
	}
	if err := c.store.AdvanceSummarySync(ctx, groupJIDs, syncTime); err != nil {
		c.log.ErrorContext(ctx, "Failed to advance summary watermarks", "error", err)
		return true, err
	}

	c.log.InfoContext(ctx, "Consolidated digest delivered",
		"recipient", c.recipient, "sections", len(summarized), "groups_advanced", len(groupJIDs))
	return true, nil
}

// renderConsolidated builds the single outbound message: a dated header,
// one section per summarized group, and a footer.
func (c *Coordinator) renderConsolidated(summarized []GroupOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, consolidatedHeaderFormat, c.now().In(c.loc).Format("2006-01-02"))
	b.WriteString("\n")
	b.WriteString(consolidatedDivider)
	b.WriteString("\n\n")

	for i, o := range summarized {
		fmt.Fprintf(&b, "📌 *%s* (%d הודעות)\n", o.Group.DisplayName(), o.Log.MessageCount)
		b.WriteString(o.Log.SummaryText)
		b.WriteString("\n")
		if i < len(summarized)-1 {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(consolidatedDivider)
	b.WriteString("\n")
	b.WriteString(consolidatedFooter)
	return b.String()
}
