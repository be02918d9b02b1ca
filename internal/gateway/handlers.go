package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/directory"
	"github.com/telemost/switchboard/internal/flow"
	"github.com/telemost/switchboard/internal/incident"
	"github.com/telemost/switchboard/internal/session"
)

// DefaultDigitGuard is the minimum digits-only length treated as a SIP
// number rather than ordinary text.
const DefaultDigitGuard = 2

// Handlers implements the per-tier event handling: commands, button
// actions and free text.
type Handlers struct {
	db         *gorm.DB
	sessions   *session.Store
	flows      *flow.Engine
	adapter    Adapter
	adminIDs   []int64
	digitGuard int
	out        io.Writer
}

// HandlersOpts holds parameters for creating Handlers.
type HandlersOpts struct {
	DB         *gorm.DB
	Sessions   *session.Store
	Flows      *flow.Engine
	Adapter    Adapter
	AdminIDs   []int64 // bootstrap admins, always recognized
	DigitGuard int     // defaults to DefaultDigitGuard
	Out        io.Writer
}

// NewHandlers creates Handlers.
func NewHandlers(opts HandlersOpts) (*Handlers, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("gateway: handlers: db is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("gateway: handlers: session store is required")
	}
	if opts.Flows == nil {
		return nil, fmt.Errorf("gateway: handlers: flow engine is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("gateway: handlers: adapter is required")
	}
	h := &Handlers{
		db:         opts.DB,
		sessions:   opts.Sessions,
		flows:      opts.Flows,
		adapter:    opts.Adapter,
		adminIDs:   opts.AdminIDs,
		digitGuard: opts.DigitGuard,
		out:        opts.Out,
	}
	if h.digitGuard <= 0 {
		h.digitGuard = DefaultDigitGuard
	}
	if h.out == nil {
		h.out = os.Stdout
	}
	return h, nil
}

// isAdmin recognizes bootstrap admins and directory admins.
func (h *Handlers) isAdmin(userID int64) bool {
	for _, id := range h.adminIDs {
		if id == userID {
			return true
		}
	}
	return directory.IsAdmin(h.db, userID)
}

// hasAccess reports whether the user may interact past /start.
func (h *Handlers) hasAccess(userID int64) bool {
	return h.isAdmin(userID) || directory.HasAccess(h.db, userID)
}

func (h *Handlers) reply(ctx context.Context, ev Event, text string, buttons [][]Button) error {
	return h.adapter.Send(ctx, Outbound{
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		Text:      text,
		Buttons:   buttons,
	})
}

func (h *Handlers) sendTo(ctx context.Context, userID int64, text string, buttons [][]Button) {
	if err := h.adapter.Send(ctx, Outbound{UserID: userID, Text: text, Buttons: buttons}); err != nil {
		log.Printf("gateway: send to %d: %v", userID, err)
	}
}

// HandleCommand dispatches a slash command.
func (h *Handlers) HandleCommand(ctx context.Context, ev Event) error {
	switch ev.Command {
	case "start":
		return h.cmdStart(ctx, ev)
	case "health":
		return h.cmdHealth(ctx, ev)
	case "cancel":
		return h.cmdCancel(ctx, ev)
	default:
		return h.reply(ctx, ev, "Unknown command. Try /start.", nil)
	}
}

// cmdStart refreshes the user's directory record, derives the session
// role and shows the role's menu.
func (h *Handlers) cmdStart(ctx context.Context, ev Event) error {
	if !h.hasAccess(ev.UserID) {
		return h.reply(ctx, ev, "You are not registered. Ask an administrator to add you.", nil)
	}
	if err := directory.UpdateOperatorInfo(h.db, ev.UserID, ev.Username, ev.FirstName); err != nil {
		log.Printf("gateway: update operator info for %d: %v", ev.UserID, err)
	}

	role := session.RoleOperator
	switch {
	case h.isAdmin(ev.UserID):
		role = session.RoleAdmin
	case directory.IsConsole(h.db, ev.UserID):
		role = session.RoleConsole
	}
	if err := h.sessions.SetRole(ev.UserID, role); err != nil {
		return fmt.Errorf("gateway: set role for %d: %w", ev.UserID, err)
	}
	fmt.Fprintf(h.out, "gateway: user %d started as %s\n", ev.UserID, role)
	return h.reply(ctx, ev, greeting(role), h.menu(role))
}

func greeting(role session.Role) string {
	switch role {
	case session.RoleAdmin:
		return "Admin console ready."
	case session.RoleConsole:
		return "Resolution console ready. Incoming incidents will show resolution buttons."
	default:
		return "Ready. Pick a provider or use the menu below."
	}
}

// menu builds the role's button rows.
func (h *Handlers) menu(role session.Role) [][]Button {
	rows := [][]Button{
		{{Label: "Report incident", Action: "menu:report"}, {Label: "My SIP", Action: "menu:sip"}},
		{{Label: "Support", Action: "menu:support"}},
	}
	if role == session.RoleAdmin {
		rows = append(rows,
			[]Button{{Label: "Add operator", Action: "menu:add_operator"}, {Label: "Remove operator", Action: "menu:remove_operator"}},
			[]Button{{Label: "Add provider", Action: "menu:add_provider"}, {Label: "Remove provider", Action: "menu:remove_provider"}},
			[]Button{{Label: "Broadcast", Action: "menu:broadcast"}},
		)
	}
	return rows
}

func (h *Handlers) cmdHealth(ctx context.Context, ev Event) error {
	open, err := incident.OpenCount(h.db)
	if err != nil {
		return fmt.Errorf("gateway: health: %w", err)
	}
	return h.reply(ctx, ev, fmt.Sprintf("OK. Open incidents: %d. Active sessions: %d.", open, h.sessions.Len()), nil)
}

// cmdCancel aborts any in-progress flow and drops the user's ephemeral
// session state. The role survives.
func (h *Handlers) cmdCancel(ctx context.Context, ev Event) error {
	cancelled := h.flows.Cancel(ev.UserID)
	h.sessions.ClearEphemeral(ev.UserID)
	if cancelled {
		return h.reply(ctx, ev, "Cancelled.", nil)
	}
	return h.reply(ctx, ev, "Nothing to cancel.", nil)
}

// Rules returns the ordered action routing table. The bare-prefix
// catch-all must stay last; the Router re-appends it on reload.
func (h *Handlers) Rules() []ActionRule {
	return []ActionRule{
		{Prefix: "menu:", Handle: h.actionMenu},
		{Prefix: "provider:", Handle: h.actionProvider},
		{Prefix: "quickcap:", Handle: h.actionQuickCapture},
		{Prefix: "incident:", Handle: h.actionIncident},
		{Prefix: "", Handle: h.actionUnknown},
	}
}

// flowKinds maps admin menu actions to their dialogues.
var flowKinds = map[string]flow.Kind{
	"add_operator":    flow.AddOperator,
	"remove_operator": flow.RemoveOperator,
	"add_provider":    flow.AddProvider,
	"remove_provider": flow.RemoveProvider,
	"broadcast":       flow.Broadcast,
}

func (h *Handlers) actionMenu(ctx context.Context, ev Event) error {
	item := strings.TrimPrefix(ev.Action, "menu:")

	if kind, ok := flowKinds[item]; ok {
		if !h.isAdmin(ev.UserID) {
			return h.reply(ctx, ev, "Admins only.", nil)
		}
		prompt, err := h.flows.Start(ev.UserID, kind)
		if err != nil {
			return fmt.Errorf("gateway: start %s: %w", kind, err)
		}
		return h.reply(ctx, ev, prompt, nil)
	}

	switch item {
	case "report":
		return h.showProviderPicker(ctx, ev)
	case "sip":
		sip, err := incident.SipForToday(h.db, ev.UserID)
		if err != nil {
			return fmt.Errorf("gateway: sip lookup for %d: %w", ev.UserID, err)
		}
		if sip == "" {
			return h.reply(ctx, ev, "No SIP assigned to you today.", nil)
		}
		return h.reply(ctx, ev, "Your SIP for today: "+sip, nil)
	case "support":
		h.sessions.SetSupportMode(ev.UserID, true)
		return h.reply(ctx, ev, "Support mode on. Your next message goes to the admins.", nil)
	default:
		return h.reply(ctx, ev, "Unknown menu item.", nil)
	}
}

func (h *Handlers) showProviderPicker(ctx context.Context, ev Event) error {
	provs, err := directory.Providers(h.db)
	if err != nil {
		return fmt.Errorf("gateway: list providers: %w", err)
	}
	if len(provs) == 0 {
		return h.reply(ctx, ev, "No providers configured yet.", nil)
	}
	var rows [][]Button
	var row []Button
	for _, p := range provs {
		row = append(row, Button{Label: p.Name, Action: "provider:" + p.Code})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return h.reply(ctx, ev, "Pick a provider:", rows)
}

// actionProvider records the tapped provider as the active selection.
func (h *Handlers) actionProvider(ctx context.Context, ev Event) error {
	code := strings.TrimPrefix(ev.Action, "provider:")
	prov, err := directory.ProviderByCode(h.db, code)
	if err != nil {
		return fmt.Errorf("gateway: provider %s: %w", code, err)
	}
	if prov == nil {
		return h.reply(ctx, ev, "That provider no longer exists.", nil)
	}
	if err := h.sessions.SetActiveSelection(ev.UserID, prov.Name, prov.Code); err != nil {
		return fmt.Errorf("gateway: select provider %s for %d: %w", code, ev.UserID, err)
	}
	if prov.QuickCapture {
		return h.reply(ctx, ev, prov.Name+" selected. Send the SIP number.", nil)
	}
	return h.reply(ctx, ev, prov.Name+" selected. Describe the incident.", nil)
}

// actionQuickCapture toggles a provider's quick-capture mode
// ("quickcap:<code>:on" / "quickcap:<code>:off").
func (h *Handlers) actionQuickCapture(ctx context.Context, ev Event) error {
	if !h.isAdmin(ev.UserID) {
		return h.reply(ctx, ev, "Admins only.", nil)
	}
	rest := strings.TrimPrefix(ev.Action, "quickcap:")
	code, mode, ok := strings.Cut(rest, ":")
	if !ok || (mode != "on" && mode != "off") {
		return h.reply(ctx, ev, "Malformed quick-capture action.", nil)
	}
	updated, err := directory.SetQuickCapture(h.db, code, mode == "on")
	if err != nil {
		return fmt.Errorf("gateway: quickcap %s: %w", code, err)
	}
	if !updated {
		return h.reply(ctx, ev, "Provider "+code+" was not found.", nil)
	}
	return h.reply(ctx, ev, fmt.Sprintf("Quick capture %s for %s.", mode, code), nil)
}

// actionIncident resolves an open report
// ("incident:<id>:<status>", status one of fixed/waiting/wrong/simulated).
func (h *Handlers) actionIncident(ctx context.Context, ev Event) error {
	role := h.sessions.Role(ev.UserID)
	if role != session.RoleAdmin && role != session.RoleConsole && !h.isAdmin(ev.UserID) {
		return h.reply(ctx, ev, "Resolution console only.", nil)
	}
	rest := strings.TrimPrefix(ev.Action, "incident:")
	idStr, status, ok := strings.Cut(rest, ":")
	if !ok {
		return h.reply(ctx, ev, "Malformed incident action.", nil)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return h.reply(ctx, ev, "Malformed incident action.", nil)
	}
	resolved, err := incident.ResolveReport(h.db, uint(id), status, ev.UserID)
	if err != nil {
		return fmt.Errorf("gateway: resolve incident %d: %w", id, err)
	}
	if !resolved {
		return h.reply(ctx, ev, fmt.Sprintf("Incident #%d is already resolved.", id), nil)
	}
	return h.reply(ctx, ev, fmt.Sprintf("Incident #%d marked %s.", id, status), nil)
}

func (h *Handlers) actionUnknown(ctx context.Context, ev Event) error {
	log.Printf("gateway: unknown action %q from %d", ev.Action, ev.UserID)
	return h.reply(ctx, ev, "That button is no longer active.", nil)
}

// HandleText runs the free-text tier. Checks run in a fixed order:
// support mode, pending SIP capture, pending error-code capture,
// provider selection by name, the digit guard, then incident
// submission against the active selection.
func (h *Handlers) HandleText(ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	if h.sessions.SupportMode(ev.UserID) {
		return h.forwardToSupport(ctx, ev, text)
	}

	// Typing the Support menu label works like tapping the button.
	if strings.EqualFold(text, "Support") {
		h.sessions.SetSupportMode(ev.UserID, true)
		return h.reply(ctx, ev, "Support mode on. Your next message goes to the admins.", nil)
	}

	sel, selected := h.sessions.ActiveSelection(ev.UserID)

	// Error-code capture: a SIP is parked, this message completes the
	// pair.
	if _, pending := h.sessions.Sip(ev.UserID); pending && selected {
		if err := h.sessions.SetErrorCode(ev.UserID, text); err != nil {
			return fmt.Errorf("gateway: park error code for %d: %w", ev.UserID, err)
		}
		return h.completeCapture(ctx, ev, sel)
	}

	// SIP capture: the selected provider is in quick-capture mode and
	// the message is a plausible SIP number.
	if selected && digitsOnly(text) && len(text) >= h.digitGuard {
		prov, err := directory.ProviderByCode(h.db, sel.Code)
		if err != nil {
			return fmt.Errorf("gateway: provider %s: %w", sel.Code, err)
		}
		if prov != nil && prov.QuickCapture {
			if err := incident.SaveSip(h.db, ev.UserID, text); err != nil {
				return fmt.Errorf("gateway: save sip for %d: %w", ev.UserID, err)
			}
			if err := h.sessions.SetSip(ev.UserID, text); err != nil {
				return fmt.Errorf("gateway: park sip for %d: %w", ev.UserID, err)
			}
			return h.reply(ctx, ev, "Got it. Now send the error code.", nil)
		}
	}

	// Typing a provider name or code selects it, like tapping its
	// button.
	if prov := h.lookupProvider(text); prov != "" {
		return h.actionProvider(ctx, Event{
			UserID:    ev.UserID,
			ChannelID: ev.ChannelID,
			Kind:      ActionEvent,
			Action:    "provider:" + prov,
		})
	}

	// Digit guard: a bare number with nowhere to put it.
	if digitsOnly(text) && len(text) >= h.digitGuard && !selected {
		return h.reply(ctx, ev, "That looks like a SIP number. Pick a provider first.", nil)
	}

	if !selected {
		return h.reply(ctx, ev, "Choose a provider first, then describe the incident.", nil)
	}
	return h.submitIncident(ctx, ev, sel, text, "")
}

// forwardToSupport relays one message to the admins. Support mode is
// single-shot so a stray follow-up is not swallowed.
func (h *Handlers) forwardToSupport(ctx context.Context, ev Event, text string) error {
	h.sessions.SetSupportMode(ev.UserID, false)
	from := ev.Username
	if from == "" {
		from = strconv.FormatInt(ev.UserID, 10)
	}
	for _, id := range h.adminIDs {
		h.sendTo(ctx, id, fmt.Sprintf("Support message from %s:\n%s", from, text), nil)
	}
	return h.reply(ctx, ev, "Forwarded to support.", nil)
}

// completeCapture submits the incident from the stored sip/error-code
// pair. Both halves live in the session store so they share the
// capture TTL.
func (h *Handlers) completeCapture(ctx context.Context, ev Event, sel session.Selection) error {
	defer h.sessions.ClearCapture(ev.UserID)
	sip, ok := h.sessions.Sip(ev.UserID)
	code, okCode := h.sessions.ErrorCode(ev.UserID)
	if !ok || !okCode {
		return h.reply(ctx, ev, "Capture expired. Send the SIP number again.", nil)
	}
	return h.submitIncident(ctx, ev, sel, "error code "+code, sip)
}

func (h *Handlers) submitIncident(ctx context.Context, ev Event, sel session.Selection, text, sip string) error {
	if sip == "" {
		assigned, err := incident.SipForToday(h.db, ev.UserID)
		if err != nil {
			log.Printf("gateway: sip lookup for %d: %v", ev.UserID, err)
		} else {
			sip = assigned
		}
	}
	rep, err := incident.LogReport(h.db, ev.UserID, ev.Username, sel.Code, text, sip)
	if err != nil {
		return fmt.Errorf("gateway: log report: %w", err)
	}
	h.sessions.ClearSelection(ev.UserID)
	h.notifyConsole(ctx, ev, sel, rep.ID, text)
	return h.reply(ctx, ev, fmt.Sprintf("Incident #%d logged for %s.", rep.ID, sel.Name), nil)
}

// notifyConsole pushes the new report to the admins with resolution
// buttons.
func (h *Handlers) notifyConsole(ctx context.Context, ev Event, sel session.Selection, reportID uint, text string) {
	from := ev.Username
	if from == "" {
		from = strconv.FormatInt(ev.UserID, 10)
	}
	buttons := [][]Button{
		{
			{Label: "Fixed", Action: fmt.Sprintf("incident:%d:fixed", reportID)},
			{Label: "Waiting", Action: fmt.Sprintf("incident:%d:waiting", reportID)},
		},
		{
			{Label: "Wrong", Action: fmt.Sprintf("incident:%d:wrong", reportID)},
			{Label: "Simulated", Action: fmt.Sprintf("incident:%d:simulated", reportID)},
		},
	}
	msg := fmt.Sprintf("Incident #%d — %s\nFrom: %s\n%s", reportID, sel.Name, from, text)
	for _, id := range h.adminIDs {
		if id == ev.UserID {
			continue
		}
		h.sendTo(ctx, id, msg, buttons)
	}
}

// lookupProvider matches free text against provider names and codes,
// case-insensitively. Returns the provider code or "".
func (h *Handlers) lookupProvider(text string) string {
	if prov, err := directory.ProviderByCode(h.db, strings.ToLower(text)); err == nil && prov != nil {
		return prov.Code
	}
	if prov, err := directory.ProviderByName(h.db, text); err == nil && prov != nil {
		return prov.Code
	}
	return ""
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
