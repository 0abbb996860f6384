package domain

import (
	"fmt"
	"strings"
	"time"
)

// OwnSenderName labels messages written by the local account owner
const OwnSenderName = "You"

// MessageTimeLayout is the timestamp layout used in relayed message headers
const MessageTimeLayout = "2006-01-02 15:04:05"

// LocalMessage represents a message read from the local store
type LocalMessage struct {
	Ordinal   int64
	Timestamp time.Time
	Author    string // Participant handle, empty for the account owner
	Text      string
	FromMe    bool
}

// HasText reports whether the message carries text worth relaying
func (m *LocalMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// Sender returns the display label of the author
func (m *LocalMessage) Sender() string {
	if m.FromMe || m.Author == "" {
		return OwnSenderName
	}
	return m.Author
}

// Format renders the message as it appears in the remote channel
func (m *LocalMessage) Format(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("[%s @ %s]: %s", m.Sender(), m.Timestamp.In(loc).Format(MessageTimeLayout), m.Text)
}

// InboundMessage represents a message received from the remote chat service
type InboundMessage struct {
	MessageID string
	ChannelID string
	AuthorID  string
	FromSelf  bool // Sent by the relay's own remote identity
	Text      string
}

// WelcomeNotice is posted once into a freshly provisioned channel
func WelcomeNotice(participants []string) string {
	return fmt.Sprintf("[Bridge initialized for iMessage chat with: %s]", strings.Join(participants, ", "))
}

// RenameNotice announces a participant display name change
func RenameNotice(participant, name string) string {
	return fmt.Sprintf("[%s is now known as %s.]", participant, name)
}
