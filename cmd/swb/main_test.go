package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, sub := range []string{"serve", "migrate", "secret", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help missing %q subcommand:\n%s", sub, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "swb") {
		t.Errorf("output = %q", out)
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "serve", "--config", "/nonexistent/swb.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSecretCmd_UnknownName(t *testing.T) {
	_, err := runCmd(t, "secret", "tls-cert")
	if err == nil || !strings.Contains(err.Error(), "unknown name") {
		t.Fatalf("err = %v", err)
	}
}

func TestSetNested(t *testing.T) {
	doc := map[string]any{
		"gateway": map[string]any{"platform": "slack"},
	}
	setNested(doc, []string{"gateway", "bot_token"}, "xoxb-1")
	setNested(doc, []string{"sheets", "private_key"}, "pem")

	gw := doc["gateway"].(map[string]any)
	if gw["bot_token"] != "xoxb-1" || gw["platform"] != "slack" {
		t.Fatalf("gateway = %v", gw)
	}
	if doc["sheets"].(map[string]any)["private_key"] != "pem" {
		t.Fatalf("sheets = %v", doc["sheets"])
	}
}

func TestSecretCmd_WritesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swb.yaml")
	seed := "gateway:\n  platform: slack\n  bot_token: old\n"
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	// Pipe the new value through stdin (non-terminal path).
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	oldStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()
	if _, err := w.WriteString("xoxb-new\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	w.Close()

	if _, err := runCmd(t, "secret", "bot-token", "--config", path); err != nil {
		t.Fatalf("secret: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	gw := doc["gateway"].(map[string]any)
	if gw["bot_token"] != "xoxb-new" {
		t.Fatalf("bot_token = %v", gw["bot_token"])
	}
	if gw["platform"] != "slack" {
		t.Fatalf("platform lost: %v", gw)
	}
}
