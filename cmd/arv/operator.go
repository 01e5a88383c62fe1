package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Operator verbs. These talk to the server root and act as the human
// pseudo-reviewer; no agent key is needed.

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List review sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.do("GET", c.serverRoot()+"/api/sessions", nil)
		if err != nil {
			return err
		}
		sessions, ok := resp["sessions"].([]any)
		if !ok {
			return printJSON(resp)
		}
		for _, s := range sessions {
			entry, ok := s.(map[string]any)
			if !ok {
				continue
			}
			marker := " "
			if current, _ := entry["current"].(bool); current {
				marker = color.GreenString("*")
			}
			fmt.Printf("%s %v  %-13v turn %v  %v issues  %v..%v  %v\n",
				marker, entry["id"], entry["phase"], entry["turn"],
				entry["issue_count"], entry["base"], entry["head"], entry["repo_path"])
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a review session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		repo, _ := cmd.Flags().GetString("repo")
		base, _ := cmd.Flags().GetString("base")
		head, _ := cmd.Flags().GetString("head")
		presets, _ := cmd.Flags().GetUintSlice("preset")

		body := map[string]any{
			"repo_path": repo,
			"base":      base,
			"head":      head,
		}
		if len(presets) > 0 {
			body["preset_ids"] = presets
		}

		resp, err := c.do("POST", c.serverRoot()+"/api/sessions", body)
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("session created: %v", resp["session_id"]))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start collecting context and reviewing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if _, err := c.do("POST", c.serverRoot()+"/api/sessions/"+args[0]+"/start", nil); err != nil {
			return err
		}
		fmt.Println(color.GreenString("session started"))
		return nil
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish <session-id>",
	Short: "Finish a session; --force overrides unresolved issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		u := c.serverRoot() + "/api/sessions/" + args[0] + "/finish"
		if force, _ := cmd.Flags().GetBool("force"); force {
			u += "?force=true"
		}
		if _, err := c.do("POST", u, nil); err != nil {
			return err
		}
		fmt.Println(color.GreenString("session complete"))
		return nil
	},
}

var fixCompleteCmd = &cobra.Command{
	Use:   "fix-complete <session-id>",
	Short: "Report fixes pushed and trigger verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		commit, _ := cmd.Flags().GetString("commit")
		issueIDs, _ := cmd.Flags().GetStringSlice("issue")

		body := map[string]any{"commit": commit}
		if len(issueIDs) > 0 {
			body["issue_ids"] = issueIDs
		}
		if _, err := c.do("POST", c.serverRoot()+"/api/sessions/"+args[0]+"/fix-complete", body); err != nil {
			return err
		}
		fmt.Println(color.GreenString("verification started"))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if _, err := c.do("DELETE", c.serverRoot()+"/api/sessions/"+args[0], nil); err != nil {
			return err
		}
		fmt.Println(color.YellowString("session deleted"))
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List reviewer presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.do("GET", c.serverRoot()+"/api/presets", nil)
		if err != nil {
			return err
		}
		presets, ok := resp["presets"].([]any)
		if !ok {
			return printJSON(resp)
		}
		for _, p := range presets {
			entry, ok := p.(map[string]any)
			if !ok {
				continue
			}
			state := color.GreenString("enabled")
			if enabled, _ := entry["enabled"].(bool); !enabled {
				state = color.RedString("disabled")
			}
			fmt.Printf("%4.0f  %-20v %-20v %-10v %-10v %s\n",
				entry["id"], entry["name"], entry["model"],
				entry["client_kind"], entry["strictness"], state)
		}
		return nil
	},
}

func init() {
	createCmd.Flags().String("repo", "", "path to the git repository (required)")
	createCmd.Flags().String("base", "", "base revision (required)")
	createCmd.Flags().String("head", "", "head revision (required)")
	createCmd.Flags().UintSlice("preset", nil, "preset IDs to instantiate as reviewers")
	_ = createCmd.MarkFlagRequired("repo")
	_ = createCmd.MarkFlagRequired("base")
	_ = createCmd.MarkFlagRequired("head")

	finishCmd.Flags().Bool("force", false, "complete even with unresolved issues")

	fixCompleteCmd.Flags().String("commit", "", "commit hash containing the fixes (required)")
	fixCompleteCmd.Flags().StringSlice("issue", nil, "issue IDs the commit addresses")
	_ = fixCompleteCmd.MarkFlagRequired("commit")

	rootCmd.AddCommand(sessionsCmd, createCmd, startCmd, finishCmd,
		fixCompleteCmd, deleteCmd, presetsCmd)
}
