// Package whatsapp provides WhatsApp identifier handling, the webhook
// notification normalizer, and the HTTP API client used for outbound sends.
package whatsapp

import "strings"

const (
	// GroupJIDSuffix is the canonical suffix for group chat identifiers.
	GroupJIDSuffix = "@g.us"
	// UserJIDSuffix is the canonical suffix for individual user identifiers.
	UserJIDSuffix = "@s.whatsapp.net"
	// ChatIDSuffix is the suffix the send API expects for individual chats.
	ChatIDSuffix = "@c.us"
)

// NormalizeJID normalizes a WhatsApp JID to the canonical suffix convention
// used across storage and comparison. Group JIDs contain a hyphen in the
// local part and take the group suffix; everything else is an individual.
func NormalizeJID(jid string) string {
	local, _, _ := strings.Cut(jid, "@")
	if strings.Contains(local, "-") {
		return local + GroupJIDSuffix
	}
	return local + UserJIDSuffix
}

// NormalizeChatJID normalizes a chat identifier. Unlike NormalizeJID, an
// explicit @g.us suffix on the input is authoritative: some group
// identifiers carry the group suffix without the hyphen convention.
func NormalizeChatJID(jid string) string {
	normalized := NormalizeJID(jid)
	if IsGroupJID(jid) && !IsGroupJID(normalized) {
		local, _, _ := strings.Cut(jid, "@")
		return local + GroupJIDSuffix
	}
	return normalized
}

// IsGroupJID reports whether the (raw or normalized) identifier refers to a
// group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, GroupJIDSuffix)
}

// FormatChatID converts a phone number or JID into the chat identifier shape
// the send API expects: digits plus @c.us for individuals, @g.us for groups.
func FormatChatID(phone string) string {
	local, suffix, hadSuffix := strings.Cut(phone, "@")

	local = strings.TrimPrefix(local, "+")
	local = strings.ReplaceAll(local, " ", "")

	if (hadSuffix && suffix == "g.us") || strings.Contains(local, "-") {
		return local + GroupJIDSuffix
	}
	// Individual phone numbers may carry dashes as formatting; groups are
	// identified above before stripping.
	local = strings.ReplaceAll(local, "-", "")
	return local + ChatIDSuffix
}
