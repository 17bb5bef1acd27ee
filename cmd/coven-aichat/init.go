// ABOUTME: Interactive init command that writes a starter config file
// ABOUTME: Prompts with defaults; secrets default to ${ENV} references

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-aichat/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), configPath(cmd))
		},
	}
}

// initAnswers is everything init asks for
type initAnswers struct {
	Host         string
	Token        string
	Keyword      string
	Prompt       string
	Timezone     string
	DatabasePath string
	RandomTalk   bool
	LogLevel     string
	LogFormat    string
}

func runInit(in io.Reader, out io.Writer, defaultPath string) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-aichat configuration setup")
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Misskey ---")
	a.Host = prompt(reader, out, "Instance URL", "https://misskey.example")
	a.Token = prompt(reader, out, "Access token", "${MISSKEY_TOKEN}")

	fmt.Fprintln(out, "\n--- Conversation ---")
	a.Keyword = prompt(reader, out, "Keyword that starts a conversation (- for any mention)", "aichat")
	if a.Keyword == "-" {
		a.Keyword = ""
	}
	a.Prompt = prompt(reader, out, "Persona prompt", "You are a friendly bot on a Misskey server.")
	a.Timezone = prompt(reader, out, "Timezone", config.DefaultTimezone)

	fmt.Fprintln(out, "\n--- Storage ---")
	a.DatabasePath = prompt(reader, out, "SQLite database path", config.DefaultDatabasePath)

	fmt.Fprintln(out, "\n--- Random Talk ---")
	a.RandomTalk = yes(prompt(reader, out, "Join timeline notes now and then?", "no"))

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", config.DefaultLoggingLevel)
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "Set GEMINI_API_KEY (and optionally OPENAI_API_KEY, PLAMO_API_KEY), then start the bot:")
	fmt.Fprintln(out, "  coven-aichat serve")
	return nil
}

// renderConfig produces the YAML init writes
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# coven-aichat configuration\n")
	b.WriteString("# Generated by coven-aichat init\n\n")

	b.WriteString("misskey:\n")
	fmt.Fprintf(&b, "  host: %q\n", a.Host)
	fmt.Fprintf(&b, "  token: %q\n", a.Token)
	fmt.Fprintf(&b, "  reaction: %q\n", config.DefaultReaction)
	b.WriteString("\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n", a.DatabasePath)
	b.WriteString("\n")

	b.WriteString("aichat:\n")
	fmt.Fprintf(&b, "  keyword: %q\n", a.Keyword)
	fmt.Fprintf(&b, "  prompt: %q\n", a.Prompt)
	fmt.Fprintf(&b, "  timezone: %q\n", a.Timezone)
	fmt.Fprintf(&b, "  reply_timeout: %q\n", config.DefaultReplyTimeout.String())
	b.WriteString("  always_ground_mentions: false\n")
	b.WriteString("  # Providers without a key answer with an \"unavailable\" notice\n")
	b.WriteString("  gemini_api_key: \"${GEMINI_API_KEY}\"\n")
	b.WriteString("  openai_api_key: \"${OPENAI_API_KEY}\"\n")
	b.WriteString("  plamo_api_key: \"${PLAMO_API_KEY}\"\n")
	b.WriteString("\n")

	b.WriteString("random_talk:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.RandomTalk)
	fmt.Fprintf(&b, "  probability: %g\n", config.DefaultRandomTalkProb)
	fmt.Fprintf(&b, "  interval_minutes: %d\n", config.DefaultRandomTalkMinutes)
	fmt.Fprintf(&b, "  min_love: %d\n", config.DefaultRandomTalkMinLove)
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)
	return b.String()
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}
