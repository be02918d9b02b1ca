package slack

import (
	"context"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/telemost/switchboard/internal/gateway"
)

// mockClient implements slackClient.
type mockClient struct {
	mu       sync.Mutex
	posted   []string // channel ids of PostMessage calls
	users    map[string]*slackapi.User
	authErr  error
	botID    string
	postErrs []error
}

func (m *mockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &slackapi.AuthTestResponse{UserID: m.botID}, nil
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, channelID)
	if len(m.postErrs) > 0 {
		err := m.postErrs[0]
		m.postErrs = m.postErrs[1:]
		return "", "", err
	}
	return channelID, "1.0", nil
}

func (m *mockClient) GetUserInfo(userID string) (*slackapi.User, error) {
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return &slackapi.User{ID: userID, RealName: userID}, nil
}

// mockSocket implements socketClient.
type mockSocket struct {
	events chan socketmode.Event
	runErr error
}

func (m *mockSocket) Run() error {
	if m.runErr != nil {
		return m.runErr
	}
	select {} // block like the real client
}
func (m *mockSocket) EventsChan() chan socketmode.Event                  { return m.events }
func (m *mockSocket) Ack(req socketmode.Request, payload ...interface{}) {}

func newTestAdapter(t *testing.T) (*Adapter, *mockClient, *mockSocket) {
	t.Helper()
	client := &mockClient{botID: "UBOT"}
	socket := &mockSocket{events: make(chan socketmode.Event, 10)}
	a, err := New(AdapterOpts{Client: client, Socket: socket, ChannelID: "C-DEFAULT"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a, client, socket
}

func recvEvent(t *testing.T, ch <-chan gateway.Event) gateway.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return gateway.Event{}
	}
}

func messageEvent(user, channel, text string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{User: user, Channel: channel, Text: text},
			},
		},
	}
}

func TestNew_RequiredTokens(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-1"}); err == nil {
		t.Fatal("expected error for missing app token")
	}
}

func TestConnect_CapturesBotUserID(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if got := a.BotUserID(); got != "UBOT" {
		t.Fatalf("BotUserID = %q", got)
	}
}

func TestListen_TextEvent(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	socket.events <- messageEvent("U123", "D456", "hello there")
	ev := recvEvent(t, ch)
	if ev.Kind != gateway.TextEvent || ev.Text != "hello there" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.UserID != gateway.UserKey("U123") {
		t.Fatalf("UserID = %d, want UserKey(U123)", ev.UserID)
	}
}

func TestListen_TypedCommand(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- messageEvent("U123", "D456", "/Start")
	ev := recvEvent(t, ch)
	if ev.Kind != gateway.CommandEvent || ev.Command != "start" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestListen_SlashCommand(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeSlashCommand,
		Data: slackapi.SlashCommand{Command: "/health", UserID: "U123", UserName: "olya", ChannelID: "D456"},
	}
	ev := recvEvent(t, ch)
	if ev.Kind != gateway.CommandEvent || ev.Command != "health" || ev.Username != "olya" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestListen_BlockAction(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	callback := slackapi.InteractionCallback{Type: slackapi.InteractionTypeBlockActions}
	callback.User.ID = "U123"
	callback.ActionCallback.BlockActions = []*slackapi.BlockAction{{ActionID: "provider:acme"}}
	socket.events <- socketmode.Event{Type: socketmode.EventTypeInteractive, Data: callback}

	ev := recvEvent(t, ch)
	if ev.Kind != gateway.ActionEvent || ev.Action != "provider:acme" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestListen_FiltersSelfAndBots(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	socket.events <- messageEvent("UBOT", "D456", "own message")
	socket.events <- messageEvent("U123", "D456", "real message")

	ev := recvEvent(t, ch)
	if ev.Text != "real message" {
		t.Fatalf("self-message leaked through: %+v", ev)
	}
}

func TestSend_RoutesDMByUserKey(t *testing.T) {
	a, client, socket := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	// An inbound message teaches the adapter the reverse mapping.
	socket.events <- messageEvent("U123", "D456", "hi")
	ev := recvEvent(t, ch)

	if err := a.Send(context.Background(), gateway.Outbound{UserID: ev.UserID, Text: "pong"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.posted) != 1 || client.posted[0] != "U123" {
		t.Fatalf("posted = %v, want [U123]", client.posted)
	}
}

func TestSend_FallsBackToDefaultChannel(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if err := a.Send(context.Background(), gateway.Outbound{Text: "broadcast"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.posted) != 1 || client.posted[0] != "C-DEFAULT" {
		t.Fatalf("posted = %v", client.posted)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postErrs = []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}

	if err := a.Send(context.Background(), gateway.Outbound{ChannelID: "C1", Text: "x"}); err != nil {
		t.Fatalf("Send after rate limit: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.posted) != 2 {
		t.Fatalf("PostMessage called %d times, want retry", len(client.posted))
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := a.Send(context.Background(), gateway.Outbound{ChannelID: "C1", Text: "x"}); err == nil {
		t.Fatal("Send after Close succeeded")
	}
}
