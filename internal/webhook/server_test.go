package webhook

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sikumbot/internal/whatsapp"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type captureEnqueuer struct {
	accept   bool
	messages []*whatsapp.IncomingMessage
}

func (c *captureEnqueuer) Enqueue(msg *whatsapp.IncomingMessage) bool {
	if !c.accept {
		return false
	}
	c.messages = append(c.messages, msg)
	return true
}

func postWebhook(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

const groupMessagePayload = `{
	"typeWebhook": "incomingMessageReceived",
	"idMessage": "ABC123",
	"timestamp": 1756000000,
	"senderData": {
		"sender": "972501234567@c.us",
		"senderName": "Alice",
		"chatId": "120363-99@g.us",
		"chatName": "Family"
	},
	"messageData": {
		"typeMessage": "textMessage",
		"textMessageData": {"textMessage": "hello everyone"}
	}
}`

func TestWebhookEnqueuesNormalizedMessage(t *testing.T) {
	enq := &captureEnqueuer{accept: true}
	s := NewServer(0, enq, testLogger)

	w := postWebhook(t, s, groupMessagePayload)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, enq.messages, 1)

	msg := enq.messages[0]
	assert.Equal(t, "ABC123", msg.MessageID)
	assert.Equal(t, "120363-99@g.us", msg.ChatJID)
	assert.Equal(t, "972501234567@s.whatsapp.net", msg.SenderJID)
	assert.Equal(t, "hello everyone", msg.Content)
	assert.True(t, msg.IsGroup)
}

func TestWebhookAcknowledgesIrrelevantEvents(t *testing.T) {
	enq := &captureEnqueuer{accept: true}
	s := NewServer(0, enq, testLogger)

	w := postWebhook(t, s, `{"typeWebhook": "stateInstanceChanged"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, enq.messages)
}

func TestWebhookAcknowledgesMalformedPayload(t *testing.T) {
	enq := &captureEnqueuer{accept: true}
	s := NewServer(0, enq, testLogger)

	w := postWebhook(t, s, `{not json`)

	assert.Equal(t, http.StatusOK, w.Code, "provider must not retry malformed payloads")
	assert.Empty(t, enq.messages)
}

func TestWebhookAcknowledgesWhenQueueFull(t *testing.T) {
	enq := &captureEnqueuer{accept: false}
	s := NewServer(0, enq, testLogger)

	w := postWebhook(t, s, groupMessagePayload)

	assert.Equal(t, http.StatusOK, w.Code, "a full queue is a local concern, never a retry signal")
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(0, &captureEnqueuer{accept: true}, testLogger)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
