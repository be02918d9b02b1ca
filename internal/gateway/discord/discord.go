// Package discord implements the gateway Adapter for Discord using the
// Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/telemost/switchboard/internal/gateway"
)

// session abstracts the discordgo.Session methods we use, enabling
// test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session
// interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements gateway.Adapter for Discord via the Gateway
// WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	channelID     string // default channel for messages without a target
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan gateway.Event
	users         map[int64]string // gateway user key -> discord user id
	removeHandler []func()
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // default channel to post to
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		inbound:   make(chan gateway.Event, 100),
		users:     make(map[int64]string),
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture bot user ID on connect/reconnect for self-filtering.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo reconnects on its own; log for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns the inbound event channel. Registers message and
// interaction handlers on the Gateway session. Must be called after
// Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeHandler = append(a.removeHandler,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)

	return a.inbound, nil
}

// Send delivers a message to Discord. Button rows become message
// component rows. Outbounds addressed by user key open (or reuse) a DM
// channel.
func (a *Adapter) Send(ctx context.Context, msg gateway.Outbound) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	target := msg.ChannelID
	var dmUser string
	if msg.UserID != 0 {
		if discordID, ok := a.users[msg.UserID]; ok {
			dmUser = discordID
		}
	}
	if target == "" && dmUser == "" {
		target = a.channelID
	}
	a.mu.Unlock()

	if dmUser != "" {
		ch, err := a.sess.UserChannelCreate(dmUser)
		if err != nil {
			return fmt.Errorf("discord: open dm with %s: %w", dmUser, err)
		}
		target = ch.ID
	}
	if target == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	if _, err := a.sess.ChannelMessageSendComplex(target, buildMessageSend(msg)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Close shuts down the adapter, removes handlers and closes the
// inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeHandler {
		remove()
	}
	if a.sess != nil {
		if err := a.sess.Close(); err != nil {
			log.Printf("discord: close session: %v", err)
		}
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) rememberUser(discordID string) int64 {
	key := gateway.UserKey(discordID)
	a.mu.Lock()
	a.users[key] = discordID
	a.mu.Unlock()
	return key
}

// handleMessage converts a Discord message to a gateway event.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.mu.Lock()
	selfID := a.botUserID
	closed := a.closed
	a.mu.Unlock()
	if closed || m.Author.ID == selfID {
		return
	}

	text := strings.TrimSpace(m.Content)
	key := a.rememberUser(m.Author.ID)

	if cmd, ok := strings.CutPrefix(text, "/"); ok && !strings.Contains(cmd, " ") && cmd != "" {
		a.inbound <- gateway.Event{
			UserID:    key,
			Username:  m.Author.Username,
			ChannelID: m.ChannelID,
			Kind:      gateway.CommandEvent,
			Command:   strings.ToLower(cmd),
		}
		return
	}

	a.inbound <- gateway.Event{
		UserID:    key,
		Username:  m.Author.Username,
		ChannelID: m.ChannelID,
		Kind:      gateway.TextEvent,
		Text:      text,
	}
}

// handleInteraction converts component button presses, acking each so
// Discord does not show a failure to the user.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return
	}

	if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: ack interaction: %v", err)
	}

	key := a.rememberUser(user.ID)
	a.inbound <- gateway.Event{
		UserID:    key,
		Username:  user.Username,
		ChannelID: i.ChannelID,
		Kind:      gateway.ActionEvent,
		Action:    i.MessageComponentData().CustomID,
	}
}

// buildMessageSend translates an Outbound into a Discord message with
// component rows.
func buildMessageSend(msg gateway.Outbound) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, row := range msg.Buttons {
		var components []discordgo.MessageComponent
		for _, btn := range row {
			components = append(components, discordgo.Button{
				Label:    btn.Label,
				Style:    discordgo.SecondaryButton,
				CustomID: btn.Action,
			})
		}
		data.Components = append(data.Components, discordgo.ActionsRow{Components: components})
	}
	return data
}
