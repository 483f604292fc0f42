package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sikumbot/internal/config"
	"sikumbot/internal/retry"
)

// GroupInfo describes one group the account participates in, as reported by
// the WhatsApp API's group listing.
type GroupInfo struct {
	JID  string `json:"jid"`
	Name string `json:"name"`
}

// Sender sends outbound messages. The implementation normalizes recipient
// identifiers to the send API's own suffix convention.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Client is the WhatsApp HTTP API surface used by the application.
type Client interface {
	Sender

	// Groups lists the groups the account is a member of.
	Groups(ctx context.Context) ([]GroupInfo, error)

	// OwnJID returns the bot account's own JID, cached after first fetch.
	OwnJID(ctx context.Context) (string, error)
}

// fallbackOwnJID is used when the API cannot report the account's JID;
// sends still work, only self-message filtering degrades.
const fallbackOwnJID = "bot@s.whatsapp.net"

type httpClient struct {
	hc       *http.Client
	baseURL  string
	apiToken string
	limiter  *rate.Limiter
	retry    retry.Policy
	log      *slog.Logger

	mu     sync.Mutex
	ownJID string
}

// NewClient creates a WhatsApp API client with client-side send rate limiting
// and randomized exponential retry on transport failures.
func NewClient(cfg config.WhatsAppConfig, retryPolicy retry.Policy, log *slog.Logger) Client {
	perSend := rate.Every(time.Minute / time.Duration(cfg.SendRatePerMinute))

	logger := log.With("component", "whatsapp_client")
	logger.Info("WhatsApp client initialized", "api_url", cfg.APIURL, "send_rate_per_minute", cfg.SendRatePerMinute)

	return &httpClient{
		hc:       &http.Client{Timeout: 30 * time.Second},
		baseURL:  cfg.APIURL,
		apiToken: cfg.APIToken,
		limiter:  rate.NewLimiter(perSend, 1),
		retry:    retryPolicy,
		log:      logger,
	}
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request to %s returned status %d: %s", path, resp.StatusCode, string(payload))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// SendMessage sends one text message. The recipient identifier is converted
// to the API's chat-id convention before sending.
func (c *httpClient) SendMessage(ctx context.Context, chatID, text string) error {
	if text == "" {
		return fmt.Errorf("cannot send empty message")
	}

	target := FormatChatID(chatID)

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limiter wait cancelled: %w", err)
	}

	payload := map[string]string{"phone": target, "message": text}
	err := retry.Do(ctx, c.log, c.retry, "send_message", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/send/message", payload, nil)
	})
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to send message", "chat_id", target, "error", err)
		return err
	}

	c.log.InfoContext(ctx, "Message sent successfully", "chat_id", target, "length", len(text))
	return nil
}

// Groups lists all groups the account is part of.
func (c *httpClient) Groups(ctx context.Context) ([]GroupInfo, error) {
	var groups []GroupInfo
	err := retry.Do(ctx, c.log, c.retry, "get_groups", func(ctx context.Context) error {
		groups = groups[:0]
		return c.doJSON(ctx, http.MethodGet, "/groups", nil, &groups)
	})
	if err != nil {
		return nil, err
	}

	c.log.DebugContext(ctx, "Retrieved groups", "count", len(groups))
	return groups, nil
}

// OwnJID resolves the bot account's own JID from the device listing,
// caching the result. A placeholder is returned when the API reports no
// devices.
func (c *httpClient) OwnJID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.ownJID != "" {
		jid := c.ownJID
		c.mu.Unlock()
		return jid, nil
	}
	c.mu.Unlock()

	var devices []struct {
		Device string `json:"device"`
	}
	err := retry.Do(ctx, c.log, c.retry, "get_own_jid", func(ctx context.Context) error {
		devices = devices[:0]
		return c.doJSON(ctx, http.MethodGet, "/app/devices", nil, &devices)
	})
	if err != nil {
		// Degrade instead of failing startup: only self-echo filtering
		// weakens when the placeholder is used.
		c.log.Warn("Could not retrieve own JID from API, using placeholder",
			"placeholder", fallbackOwnJID, "error", err)
		return fallbackOwnJID, nil
	}

	jid := fallbackOwnJID
	if len(devices) > 0 && devices[0].Device != "" {
		jid = NormalizeJID(devices[0].Device)
	} else {
		c.log.Warn("Device listing empty, using placeholder JID", "placeholder", jid)
	}

	c.mu.Lock()
	c.ownJID = jid
	c.mu.Unlock()

	c.log.Info("Resolved own JID", "jid", jid)
	return jid, nil
}
