// Package gateway bridges chat platforms (Slack, Discord) to the
// switchboard core: it normalizes inbound traffic into events and
// routes each event through the handler tiers.
package gateway

import "hash/fnv"

// EventKind classifies an inbound event.
type EventKind int

const (
	// CommandEvent is a slash command, e.g. "/start".
	CommandEvent EventKind = iota
	// ActionEvent is a button press carrying an action id.
	ActionEvent
	// TextEvent is a free-text message.
	TextEvent
)

// Event is one normalized inbound interaction.
type Event struct {
	UserID    int64
	Username  string
	FirstName string
	ChannelID string // platform channel/DM the event arrived on
	Kind      EventKind
	Command   string // command name without the slash, e.g. "start"
	Action    string // action id, e.g. "menu:report"
	Text      string // raw message text
}

// Button is one tappable choice attached to an outbound message.
type Button struct {
	Label  string
	Action string // action id delivered back when tapped
}

// Outbound is a message for the adapter to deliver.
type Outbound struct {
	UserID    int64  // direct-message target; 0 means use ChannelID
	ChannelID string
	Text      string
	Buttons   [][]Button // rows of buttons, nil for plain text
}

// UserKey folds a platform-native user id (Slack "U…", Discord
// snowflake) into the stable positive int64 the core keys sessions,
// limits and the directory by.
func UserKey(platformID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(platformID))
	return int64(h.Sum64() & (1<<63 - 1))
}
