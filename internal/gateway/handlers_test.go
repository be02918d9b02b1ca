package gateway

import (
	"strings"
	"testing"

	"github.com/telemost/switchboard/internal/directory"
	"github.com/telemost/switchboard/internal/incident"
	"github.com/telemost/switchboard/internal/models"
	"github.com/telemost/switchboard/internal/session"
)

func addProvider(t *testing.T, r *rig, name, code string, quickCapture bool) {
	t.Helper()
	if _, err := directory.AddProvider(r.db, name, code, "white", -1001, adminID); err != nil {
		t.Fatalf("AddProvider(%s): %v", code, err)
	}
	if quickCapture {
		if _, err := directory.SetQuickCapture(r.db, code, true); err != nil {
			t.Fatalf("SetQuickCapture(%s): %v", code, err)
		}
	}
}

func TestText_IncidentSubmission(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Acme Telecom", "acme", false)

	r.action(operatorID, "provider:acme")
	if sel, ok := r.sessions.ActiveSelection(operatorID); !ok || sel.Code != "acme" {
		t.Fatalf("selection = %v/%v", sel, ok)
	}

	r.text(operatorID, "calls drop after 10 seconds")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "Incident #") {
		t.Fatalf("reply = %q", got)
	}

	var rep models.IncidentReport
	if err := r.db.First(&rep).Error; err != nil {
		t.Fatalf("load report: %v", err)
	}
	if rep.ProviderCode != "acme" || rep.Status != models.ReportOpen {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Text != "calls drop after 10 seconds" {
		t.Fatalf("report text = %q", rep.Text)
	}
	if _, ok := r.sessions.ActiveSelection(operatorID); ok {
		t.Fatal("selection survived submission")
	}
}

func TestText_IncidentNotifiesAdmins(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Acme", "acme", false)

	r.action(operatorID, "provider:acme")
	r.text(operatorID, "trunk is down")

	var toAdmin *Outbound
	for _, msg := range r.adapter.Sent() {
		if msg.UserID == adminID && strings.Contains(msg.Text, "Incident #") {
			m := msg
			toAdmin = &m
		}
	}
	if toAdmin == nil {
		t.Fatal("admin never notified about the incident")
	}
	if len(toAdmin.Buttons) != 2 {
		t.Fatalf("admin notice has %d button rows, want resolution rows", len(toAdmin.Buttons))
	}
	if toAdmin.Buttons[0][0].Action != "incident:1:fixed" {
		t.Fatalf("first button action = %q", toAdmin.Buttons[0][0].Action)
	}
}

func TestText_QuickCapturePair(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Beta", "beta", true)

	r.action(operatorID, "provider:beta")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "SIP") {
		t.Fatalf("selection reply = %q, want SIP prompt", got)
	}

	r.text(operatorID, "4471")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "error code") {
		t.Fatalf("reply = %q, want error-code prompt", got)
	}

	// Parking the SIP assigns it for the day.
	if sip, err := incident.SipForToday(r.db, operatorID); err != nil || sip != "4471" {
		t.Fatalf("SipForToday = %q/%v, want 4471", sip, err)
	}
	r.action(operatorID, "menu:sip")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "4471") {
		t.Fatalf("menu:sip reply = %q, want assigned sip", got)
	}

	r.text(operatorID, "503")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "Incident #") {
		t.Fatalf("reply = %q", got)
	}

	var rep models.IncidentReport
	if err := r.db.First(&rep).Error; err != nil {
		t.Fatalf("load report: %v", err)
	}
	if rep.Sip != "4471" || !strings.Contains(rep.Text, "503") {
		t.Fatalf("report = %+v", rep)
	}
	if r.sessions.HasCapture(operatorID) {
		t.Fatal("capture scratch survived submission")
	}
}

func TestText_ProviderNameSelects(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Gamma Lines", "gamma", false)

	r.text(operatorID, "Gamma Lines")
	if sel, ok := r.sessions.ActiveSelection(operatorID); !ok || sel.Code != "gamma" {
		t.Fatalf("selection = %v/%v", sel, ok)
	}

	// Typing the code works too.
	r.sessions.ClearSelection(operatorID)
	r.text(operatorID, "GAMMA")
	if sel, ok := r.sessions.ActiveSelection(operatorID); !ok || sel.Code != "gamma" {
		t.Fatalf("selection by code = %v/%v", sel, ok)
	}
}

func TestText_DigitGuard(t *testing.T) {
	r := newRig(t)

	r.text(operatorID, "4471")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "Pick a provider first") {
		t.Fatalf("reply = %q, want digit-guard hint", got)
	}
	var count int64
	r.db.Model(&models.IncidentReport{}).Count(&count)
	if count != 0 {
		t.Fatal("bare number logged as incident")
	}
}

func TestText_NoSelection(t *testing.T) {
	r := newRig(t)
	r.text(operatorID, "everything is broken")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "Choose a provider first") {
		t.Fatalf("reply = %q", got)
	}
}

func TestText_SupportModeForwards(t *testing.T) {
	r := newRig(t)

	// Typing the menu label works like tapping the button.
	r.text(operatorID, "Support")
	if !r.sessions.SupportMode(operatorID) {
		t.Fatal("typing Support did not enter support mode")
	}
	r.text(operatorID, "my sip phone will not register")

	forwarded := false
	for _, msg := range r.adapter.Sent() {
		if msg.UserID == adminID && strings.Contains(msg.Text, "will not register") {
			forwarded = true
		}
	}
	if !forwarded {
		t.Fatal("support message never reached the admin")
	}
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "Forwarded") {
		t.Fatalf("reply = %q", got)
	}
	if r.sessions.SupportMode(operatorID) {
		t.Fatal("support mode survived the forwarded message")
	}
}

func TestAction_SupportButton(t *testing.T) {
	r := newRig(t)
	r.action(operatorID, "menu:support")
	if !r.sessions.SupportMode(operatorID) {
		t.Fatal("support button did not enter support mode")
	}
}

func TestCancel_ClearsFlowAndEphemeral(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Acme", "acme", false)

	r.action(adminID, "menu:add_provider")
	r.action(adminID, "provider:acme")
	r.command(adminID, "start") // role set to admin
	r.command(adminID, "cancel")

	if _, ok := r.flows.Active(adminID); ok {
		t.Fatal("flow survived /cancel")
	}
	if _, ok := r.sessions.ActiveSelection(adminID); ok {
		t.Fatal("selection survived /cancel")
	}
	if role := r.sessions.Role(adminID); role != session.RoleAdmin {
		t.Fatalf("role = %q, want admin preserved", role)
	}
}

func TestActionIncident_ResolveOnce(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Acme", "acme", false)

	r.action(operatorID, "provider:acme")
	r.text(operatorID, "no audio")

	// Operators cannot resolve.
	r.action(operatorID, "incident:1:fixed")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "console only") {
		t.Fatalf("reply = %q", got)
	}

	r.command(adminID, "start")
	r.action(adminID, "incident:1:fixed")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "marked fixed") {
		t.Fatalf("reply = %q", got)
	}

	r.action(adminID, "incident:1:waiting")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "already resolved") {
		t.Fatalf("reply = %q", got)
	}
}

func TestActionProvider_Vanished(t *testing.T) {
	r := newRig(t)
	r.action(operatorID, "provider:ghost")
	if got := lastReply(t, r.adapter).Text; !strings.Contains(got, "no longer exists") {
		t.Fatalf("reply = %q", got)
	}
}

func TestMenuReport_ListsProviders(t *testing.T) {
	r := newRig(t)
	addProvider(t, r, "Acme", "acme", false)
	addProvider(t, r, "Beta", "beta", false)
	addProvider(t, r, "Gamma", "gamma", false)

	r.action(operatorID, "menu:report")
	msg := lastReply(t, r.adapter)
	if len(msg.Buttons) != 2 {
		t.Fatalf("picker rows = %d, want 2 (two per row)", len(msg.Buttons))
	}
	if msg.Buttons[0][0].Action != "provider:acme" {
		t.Fatalf("first picker action = %q", msg.Buttons[0][0].Action)
	}
}
