// ABOUTME: Entry point for coven-aichat, the Misskey conversation bot
// ABOUTME: Cobra root command plus serve and version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-aichat/internal/bot"
	"github.com/2389/coven-aichat/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                          _           _
  ___ _____   _____ _ __         __ _(_) ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / _' | |/ __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____| (_| | | (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|      \__,_|_|\___|_| |_|\__,_|\__|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coven-aichat",
		Short:         "AI conversation bot for Misskey",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (default $COVEN_AICHAT_CONFIG or ~/.config/coven/aichat.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newFriendCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// configPath resolves the --config flag against the environment defaults
func configPath(cmd *cobra.Command) string {
	explicit, _ := cmd.Flags().GetString("config")
	return config.ResolvePath(explicit)
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Misskey and start answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Misskey:     %s\n", cfg.Misskey.Host)
	green.Print("    ▶ ")
	fmt.Printf("Database:    %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Providers:   ")
	printProviders(cfg, cyan, gray)
	green.Print("    ▶ ")
	fmt.Printf("Random talk: ")
	if cfg.RandomTalk.Enabled {
		yellow.Printf("every %s at p=%.2f\n", cfg.RandomTalk.Interval, cfg.RandomTalk.Probability)
	} else {
		gray.Println("off")
	}
	fmt.Println()

	logger.Info("starting coven-aichat",
		"config", path,
		"host", cfg.Misskey.Host,
		"keyword", cfg.AIChat.Keyword,
	)

	b, err := bot.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}
	defer b.Close()

	return b.Run(ctx)
}

func printProviders(cfg *config.Config, on, off *color.Color) {
	providers := []struct {
		name string
		key  string
	}{
		{"gemini", cfg.AIChat.GeminiAPIKey},
		{"chatgpt", cfg.AIChat.OpenAIAPIKey},
		{"plamo", cfg.AIChat.PLaMoAPIKey},
	}
	for i, p := range providers {
		if i > 0 {
			fmt.Print(" ")
		}
		if p.key != "" {
			on.Print(p.name)
		} else {
			off.Print(p.name)
		}
	}
	fmt.Println()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
