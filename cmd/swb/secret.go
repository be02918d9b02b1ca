package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// secretKeys maps the accepted secret names to their config paths.
var secretKeys = map[string][]string{
	"bot-token":  {"gateway", "bot_token"},
	"app-token":  {"gateway", "app_token"},
	"db-pass":    {"db", "password"},
	"sheets-key": {"sheets", "private_key"},
}

func newSecretCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "secret <name>",
		Short: "Store a secret in the config file",
		Long:  "Prompts for a secret without echoing it and writes it into the config file.\n\nNames: bot-token, app-token, db-pass, sheets-key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecret(cmd.OutOrStdout(), configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swb.yaml", "path to config file")
	return cmd
}

func runSecret(out io.Writer, configPath, name string) error {
	path, ok := secretKeys[name]
	if !ok {
		return fmt.Errorf("secret: unknown name %q", name)
	}

	fmt.Fprintf(out, "Value for %s: ", name)
	value, err := readSecret()
	if err != nil {
		return fmt.Errorf("secret: read value: %w", err)
	}
	fmt.Fprintln(out)
	if len(value) == 0 {
		return fmt.Errorf("secret: empty value")
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("secret: read %s: %w", configPath, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("secret: parse %s: %w", configPath, err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}

	setNested(doc, path, string(value))

	updated, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("secret: marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, updated, 0600); err != nil {
		return fmt.Errorf("secret: write %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "Stored %s in %s.\n", name, configPath)
	return nil
}

// readSecret reads without echo on a terminal, falling back to a plain
// line read when stdin is piped.
func readSecret() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		return term.ReadPassword(fd)
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// setNested writes value at the path, creating intermediate maps.
func setNested(doc map[string]any, path []string, value string) {
	for _, key := range path[:len(path)-1] {
		next, ok := doc[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			doc[key] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}
