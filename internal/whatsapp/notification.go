package whatsapp

import (
	"time"
)

// Notification is the wire shape of a Green-API-style webhook event.
// Only a subset of fields is meaningful here; unknown webhook types and
// message kinds are ignored by the normalizer.
type Notification struct {
	TypeWebhook string      `json:"typeWebhook"`
	IDMessage   string      `json:"idMessage"`
	Timestamp   int64       `json:"timestamp"`
	SenderData  SenderData  `json:"senderData"`
	MessageData MessageData `json:"messageData"`
}

// SenderData carries sender and chat identification for a notification.
type SenderData struct {
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName"`
}

// MessageData carries the message payload, whose populated sub-field depends
// on the message kind.
type MessageData struct {
	TypeMessage             string           `json:"typeMessage"`
	TextMessageData         *TextMessageData `json:"textMessageData,omitempty"`
	ExtendedTextMessageData *ExtendedText    `json:"extendedTextMessageData,omitempty"`
	FileMessageData         *FileMessageData `json:"fileMessageData,omitempty"`
}

// TextMessageData holds a plain text message body.
type TextMessageData struct {
	TextMessage string `json:"textMessage"`
}

// ExtendedText holds the body of a quoted/link-preview style message.
type ExtendedText struct {
	Text string `json:"text"`
}

// FileMessageData holds media metadata; only the caption is of interest.
type FileMessageData struct {
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}

// IncomingMessage is the canonical representation of an inbound chat message,
// independent of the webhook wire shape. All identifiers are normalized.
type IncomingMessage struct {
	MessageID   string
	ChatJID     string
	ChatName    string
	SenderJID   string
	SenderName  string
	Content     string
	MessageType string
	Timestamp   time.Time
	IsGroup     bool
}

// webhookTypeIncomingMessage is the only webhook type the normalizer accepts.
const webhookTypeIncomingMessage = "incomingMessageReceived"

// Placeholder captions for non-text message kinds.
const (
	placeholderImage    = "[Image]"
	placeholderVideo    = "[Video]"
	placeholderDocument = "[Document]"
)

// textExtractor attempts to pull renderable text out of a message payload.
// Extractors are tried in order; the first applicable one wins.
type textExtractor struct {
	kind    string
	extract func(*MessageData) (string, bool)
}

var textExtractors = []textExtractor{
	{
		kind: "text",
		extract: func(md *MessageData) (string, bool) {
			if md.TextMessageData == nil {
				return "", false
			}
			return md.TextMessageData.TextMessage, true
		},
	},
	{
		kind: "text",
		extract: func(md *MessageData) (string, bool) {
			if md.ExtendedTextMessageData == nil {
				return "", false
			}
			return md.ExtendedTextMessageData.Text, true
		},
	},
	{
		kind: "image",
		extract: func(md *MessageData) (string, bool) {
			if md.TypeMessage != "imageMessage" {
				return "", false
			}
			if md.FileMessageData != nil && md.FileMessageData.Caption != "" {
				return md.FileMessageData.Caption, true
			}
			return placeholderImage, true
		},
	},
	{
		kind: "video",
		extract: func(md *MessageData) (string, bool) {
			if md.TypeMessage != "videoMessage" {
				return "", false
			}
			if md.FileMessageData != nil && md.FileMessageData.Caption != "" {
				return md.FileMessageData.Caption, true
			}
			return placeholderVideo, true
		},
	},
	{
		kind: "document",
		extract: func(md *MessageData) (string, bool) {
			if md.TypeMessage != "documentMessage" {
				return "", false
			}
			return placeholderDocument, true
		},
	},
}

// Normalize converts a webhook notification into a canonical message record.
// It returns nil when the notification is not an incoming-message event,
// lacks a stable message identifier, or carries no renderable text.
// Pure transformation, no side effects.
func Normalize(n *Notification) *IncomingMessage {
	if n == nil || n.TypeWebhook != webhookTypeIncomingMessage {
		return nil
	}
	if n.IDMessage == "" {
		return nil
	}

	var content, kind string
	for _, ex := range textExtractors {
		if text, ok := ex.extract(&n.MessageData); ok && text != "" {
			content, kind = text, ex.kind
			break
		}
	}
	if content == "" {
		return nil
	}

	ts := time.Now()
	if n.Timestamp > 0 {
		ts = time.Unix(n.Timestamp, 0)
	}

	chatJID := NormalizeChatJID(n.SenderData.ChatID)
	isGroup := IsGroupJID(chatJID)

	return &IncomingMessage{
		MessageID:   n.IDMessage,
		ChatJID:     chatJID,
		ChatName:    n.SenderData.ChatName,
		SenderJID:   NormalizeJID(n.SenderData.Sender),
		SenderName:  n.SenderData.SenderName,
		Content:     content,
		MessageType: kind,
		Timestamp:   ts,
		IsGroup:     isGroup,
	}
}
