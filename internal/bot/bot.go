// Package bot wires the ingestion pipeline, webhook server, embedding
// worker, and digest scheduler into one supervised application.
package bot

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sikumbot/internal/database"
	"sikumbot/internal/webhook"
	"sikumbot/internal/whatsapp"
)

// Runner is any long-lived component driven by a context.
type Runner interface {
	Run(ctx context.Context) error
}

// Bot supervises all long-lived components. Any component failing brings
// the whole application down so the process manager can restart it cleanly.
type Bot struct {
	store     database.Store
	client    whatsapp.Client
	pipeline  *Pipeline
	server    *webhook.Server
	scheduler *Scheduler
	workers   []Runner
	log       *slog.Logger
}

// New assembles the bot from its components. extraWorkers may include the
// embedding worker and is optional.
func New(store database.Store, client whatsapp.Client, pipeline *Pipeline, server *webhook.Server, scheduler *Scheduler, log *slog.Logger, extraWorkers ...Runner) *Bot {
	return &Bot{
		store:     store,
		client:    client,
		pipeline:  pipeline,
		server:    server,
		scheduler: scheduler,
		workers:   extraWorkers,
		log:       log.With("component", "bot"),
	}
}

// SyncGroups seeds the group registry from the account's current group
// memberships. Failures are logged, not fatal: groups are also discovered
// lazily as their messages arrive.
func (b *Bot) SyncGroups(ctx context.Context) {
	groups, err := b.client.Groups(ctx)
	if err != nil {
		b.log.WarnContext(ctx, "Initial group sync failed, relying on lazy discovery", "error", err)
		return
	}

	synced := 0
	for _, g := range groups {
		jid := whatsapp.NormalizeChatJID(g.JID)
		if !whatsapp.IsGroupJID(jid) {
			continue
		}
		if _, err := b.store.EnsureGroup(ctx, jid, g.Name); err != nil {
			b.log.WarnContext(ctx, "Failed to register group during sync", "group_jid", jid, "error", err)
			continue
		}
		synced++
	}
	b.log.InfoContext(ctx, "Initial group sync complete", "groups", synced)
}

// Run starts all components and blocks until ctx is cancelled or one of
// them fails.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.pipeline.Run(ctx) })
	g.Go(func() error { return b.server.Run(ctx) })
	for _, w := range b.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}

	b.scheduler.Start()
	g.Go(func() error {
		<-ctx.Done()
		return b.scheduler.Stop()
	})

	b.log.Info("Bot started")
	return g.Wait()
}
