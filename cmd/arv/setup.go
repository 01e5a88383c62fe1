package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arvlabs/arv/internal/check"
	"github.com/arvlabs/arv/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively generate a configuration file",
	Long: `Walk through the server settings and write a configuration file.

The file location follows --config, defaulting to ` + check.DefaultConfigPath + `.`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = check.DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		var overwrite bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
			Affirmative("Yes").
			Negative("No").
			Value(&overwrite).
			Run()
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("setup cancelled")
			return nil
		}
	}

	cfg := config.Default()

	host := cfg.Server.Host
	port := strconv.Itoa(cfg.Server.Port)
	dataDir := cfg.Storage.DataDir
	strictness := "balanced"
	kinds := []string{"claude", "codex", "gemini", "opencode"}
	responseGate := cfg.Review.AgentResponseGate

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen host").
				Description("Interface the HTTP server binds to.").
				Value(&host),
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("must be a port number between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Data directory").
				Description("Holds the SQLite database and session logs.").
				Value(&dataDir),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Reviewer clients").
				Description("CLI clients available as reviewers. Each needs its binary on PATH.").
				Options(
					huh.NewOption("Claude Code (claude)", "claude").Selected(true),
					huh.NewOption("Codex CLI (codex)", "codex").Selected(true),
					huh.NewOption("Gemini CLI (gemini)", "gemini").Selected(true),
					huh.NewOption("OpenCode (opencode)", "opencode").Selected(true),
				).
				Value(&kinds).
				Validate(func(selected []string) error {
					if len(selected) == 0 {
						return fmt.Errorf("select at least one reviewer client")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Default strictness").
				Description("How aggressively reviewers raise issues.").
				Options(
					huh.NewOption("Strict", "strict"),
					huh.NewOption("Balanced", "balanced"),
					huh.NewOption("Lenient", "lenient"),
				).
				Value(&strictness),
			huh.NewConfirm().
				Title("Pause before fixing?").
				Description("Wait for a human decision on each consensus before entering the fixing phase.").
				Affirmative("Yes").
				Negative("No").
				Value(&responseGate),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Host = host
	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Storage.DataDir = dataDir
	cfg.Review.AgentResponseGate = responseGate

	agents := make(map[string]config.AgentDetail, len(kinds))
	for _, kind := range kinds {
		detail := cfg.Agents[kind]
		detail.Strictness = strictness
		agents[kind] = detail
	}
	cfg.Agents = agents

	if appErr := cfg.Validate(); appErr != nil {
		return fmt.Errorf("invalid configuration: %v", appErr)
	}

	if err := config.Write(path, cfg); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Println(color.GreenString("configuration written to %s", path))
	fmt.Println("start the server with: arv serve")
	return nil
}
