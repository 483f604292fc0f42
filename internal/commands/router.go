// Package commands routes direct messages from the authorized user to bot
// commands. Only one JID is ever authorized; everything else is ignored
// silently.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sikumbot/internal/whatsapp"
)

// Handler executes one command. msg is the triggering direct message.
type Handler func(ctx context.Context, msg *whatsapp.IncomingMessage) error

type binding struct {
	keyword string
	handler Handler
}

// Router matches incoming direct messages against registered command
// keywords. A keyword matches when the message equals it or starts with it
// followed by a space, case-insensitively. Keywords are tried in
// registration order, so register more specific keywords first.
type Router struct {
	sender     whatsapp.Sender
	log        *slog.Logger
	authorized string
	bindings   []binding
}

// NewRouter creates a command router that only accepts messages from
// authorizedJID (normalized before comparison).
func NewRouter(sender whatsapp.Sender, authorizedJID string, log *slog.Logger) *Router {
	return &Router{
		sender:     sender,
		log:        log.With("component", "commands"),
		authorized: whatsapp.NormalizeJID(authorizedJID),
	}
}

// Register binds a keyword to a handler. Registering the same keyword twice
// keeps the first binding.
func (r *Router) Register(keyword string, handler Handler) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return
	}
	for _, b := range r.bindings {
		if b.keyword == keyword {
			r.log.Warn("Duplicate command keyword ignored", "keyword", keyword)
			return
		}
	}
	r.bindings = append(r.bindings, binding{keyword: keyword, handler: handler})
}

// HandleDirect processes one direct message. It reports whether a command
// was dispatched. Unauthorized senders and unmatched text are ignored.
// A failing handler triggers a best-effort error reply to the sender.
func (r *Router) HandleDirect(ctx context.Context, msg *whatsapp.IncomingMessage) bool {
	sender := whatsapp.NormalizeJID(msg.SenderJID)
	if sender != r.authorized {
		r.log.DebugContext(ctx, "Ignoring direct message from unauthorized sender", "sender_jid", sender)
		return false
	}

	text := strings.ToLower(strings.TrimSpace(msg.Content))
	for _, b := range r.bindings {
		if text != b.keyword && !strings.HasPrefix(text, b.keyword+" ") {
			continue
		}

		r.log.InfoContext(ctx, "Dispatching command", "keyword", b.keyword, "sender_jid", sender)
		if err := r.run(ctx, b, msg); err != nil {
			r.log.ErrorContext(ctx, "Command failed", "keyword", b.keyword, "error", err)
			reply := fmt.Sprintf("Command failed: %v", err)
			if sendErr := r.sender.SendMessage(ctx, msg.SenderJID, reply); sendErr != nil {
				r.log.ErrorContext(ctx, "Failed to send command error reply", "error", sendErr)
			}
		}
		return true
	}

	r.log.DebugContext(ctx, "No command matched", "text_length", len(text))
	return false
}

// run shields the router from handler panics; a panicking command becomes an
// error like any other.
func (r *Router) run(ctx context.Context, b binding, msg *whatsapp.IncomingMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command %q panicked: %v", b.keyword, rec)
		}
	}()
	return b.handler(ctx, msg)
}
