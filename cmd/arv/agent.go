package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Reviewer-facing verbs. These are thin wrappers over the session API; the
// reviewer identity comes from ARV_KEY, with ARV_MODEL as a cross-check.

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Raise an issue against the session under review",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		title, _ := cmd.Flags().GetString("title")
		severity, _ := cmd.Flags().GetString("severity")
		file, _ := cmd.Flags().GetString("file")
		lineStart, _ := cmd.Flags().GetInt("line-start")
		lineEnd, _ := cmd.Flags().GetInt("line-end")
		description, _ := cmd.Flags().GetString("description")
		suggestion, _ := cmd.Flags().GetString("suggestion")
		sid, _ := cmd.Flags().GetString("session")

		body := map[string]any{
			"title":    title,
			"severity": severity,
		}
		if c.model != "" {
			body["model_id"] = c.model
		}
		if file != "" {
			body["file_path"] = file
		}
		if lineStart > 0 {
			body["line_start"] = lineStart
		}
		if lineEnd > 0 {
			body["line_end"] = lineEnd
		}
		if description != "" {
			body["description"] = description
		}
		if suggestion != "" {
			body["suggestion"] = suggestion
		}

		u, err := c.sessionURL(sid, "/issues")
		if err != nil {
			return err
		}
		resp, err := c.do("POST", u, body)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [text]",
	Short: "Submit the review summary, ending this review pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, _ := cmd.Flags().GetString("session")
		u, err := c.sessionURL(sid, "/reviews")
		if err != nil {
			return err
		}
		resp, err := c.do("POST", u, map[string]any{"summary": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("review submitted"))
		return printJSON(resp)
	},
}

var opinionCmd = &cobra.Command{
	Use:   "opinion <issue-id>",
	Short: "Submit an opinion on an issue under deliberation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		action, _ := cmd.Flags().GetString("action")
		reasoning, _ := cmd.Flags().GetString("reasoning")
		severity, _ := cmd.Flags().GetString("severity")
		mentions, _ := cmd.Flags().GetStringSlice("mention")

		body := map[string]any{
			"action":    action,
			"reasoning": reasoning,
		}
		if c.model != "" {
			body["model_id"] = c.model
		}
		if severity != "" {
			body["suggested_severity"] = severity
		}
		if cmd.Flags().Changed("confidence") {
			confidence, _ := cmd.Flags().GetFloat64("confidence")
			body["confidence"] = confidence
		}
		if len(mentions) > 0 {
			body["mentions"] = mentions
		}

		resp, err := c.do("POST", c.issueURL(args[0], "/opinions"), body)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <issue-id>",
	Short: "Record a verification verdict on a fixed issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		action, _ := cmd.Flags().GetString("action")
		reasoning, _ := cmd.Flags().GetString("reasoning")
		body := map[string]any{"action": action, "reasoning": reasoning}
		if c.model != "" {
			body["model_id"] = c.model
		}
		resp, err := c.do("POST", c.issueURL(args[0], "/respond"), body)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <issue-id>",
	Short: "Update an issue's fix progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		progress, _ := cmd.Flags().GetString("to")
		reasoning, _ := cmd.Flags().GetString("reasoning")
		body := map[string]any{"status": progress, "reasoning": reasoning}
		if c.model != "" {
			body["model_id"] = c.model
		}
		resp, err := c.do("POST", c.issueURL(args[0], "/status"), body)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <issue-id>",
	Short: "Dismiss a fix_required issue as the human operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		reasoning, _ := cmd.Flags().GetString("reasoning")
		resp, err := c.do("POST", c.issueURL(args[0], "/dismiss"), map[string]any{"reasoning": reasoning})
		if err != nil {
			return err
		}
		fmt.Println(color.YellowString("issue dismissed"))
		return printJSON(resp)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List issues still awaiting this reviewer's opinion",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if c.model == "" {
			return exitf(exitClientError, "ARV_MODEL must be set")
		}
		sid, _ := cmd.Flags().GetString("session")
		u, err := c.sessionURL(sid, "/pending"+query(map[string]string{"model_id": c.model}))
		if err != nil {
			return err
		}
		resp, err := c.do("GET", u, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List the session's issues with their opinion threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, _ := cmd.Flags().GetString("session")
		u, err := c.sessionURL(sid, "/issues")
		if err != nil {
			return err
		}
		resp, err := c.do("GET", u, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread <issue-id>",
	Short: "Show one issue with its full opinion thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.do("GET", c.issueURL(args[0], "/thread"), nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the author's implementation context for the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, _ := cmd.Flags().GetString("session")
		u, err := c.sessionURL(sid, "/status")
		if err != nil {
			return err
		}
		resp, err := c.do("GET", u, nil)
		if err != nil {
			return err
		}
		if ctx, ok := resp["implementation_context"]; ok {
			return printJSON(ctx)
		}
		fmt.Println("no implementation context submitted")
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Read file lines at the session's head revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, _ := cmd.Flags().GetString("session")
		start, _ := cmd.Flags().GetInt("start")
		end, _ := cmd.Flags().GetInt("end")

		params := map[string]string{}
		if start > 0 {
			params["start"] = fmt.Sprintf("%d", start)
		}
		if end > 0 {
			params["end"] = fmt.Sprintf("%d", end)
		}
		u, err := c.sessionURL(sid, "/files/"+args[0]+query(params))
		if err != nil {
			return err
		}
		resp, err := c.do("GET", u, nil)
		if err != nil {
			return err
		}
		lines, ok := resp["lines"].([]any)
		if !ok {
			return printJSON(resp)
		}
		for _, l := range lines {
			line, ok := l.(map[string]any)
			if !ok {
				continue
			}
			fmt.Printf("%6.0f\t%s\n", line["number"], line["content"])
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search the tree at the session's head revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		sid, _ := cmd.Flags().GetString("session")
		u, err := c.sessionURL(sid, "/search?q="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		resp, err := c.do("GET", u, nil)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	reportCmd.Flags().String("title", "", "one-line issue title (required)")
	reportCmd.Flags().String("severity", "", "critical, high, medium or low (required)")
	reportCmd.Flags().String("file", "", "file path the issue is in")
	reportCmd.Flags().Int("line-start", 0, "first affected line")
	reportCmd.Flags().Int("line-end", 0, "last affected line")
	reportCmd.Flags().String("description", "", "what is wrong and why it matters")
	reportCmd.Flags().String("suggestion", "", "how to fix it")
	_ = reportCmd.MarkFlagRequired("title")
	_ = reportCmd.MarkFlagRequired("severity")

	opinionCmd.Flags().String("action", "", "fix_required, no_fix, false_positive, withdraw or comment (required)")
	opinionCmd.Flags().String("reasoning", "", "why")
	opinionCmd.Flags().String("severity", "", "suggested severity")
	opinionCmd.Flags().Float64("confidence", 0, "confidence in [0,1]")
	opinionCmd.Flags().StringSlice("mention", nil, "model IDs to pull into the thread")
	_ = opinionCmd.MarkFlagRequired("action")

	respondCmd.Flags().String("action", "", "accept, dispute or partial (required)")
	respondCmd.Flags().String("reasoning", "", "why")
	_ = respondCmd.MarkFlagRequired("action")

	statusCmd.Flags().String("to", "", "fixing, fixed, wont_fix or deferred (required)")
	statusCmd.Flags().String("reasoning", "", "why")
	_ = statusCmd.MarkFlagRequired("to")

	dismissCmd.Flags().String("reasoning", "", "why the issue does not need fixing")

	readCmd.Flags().Int("start", 0, "first line")
	readCmd.Flags().Int("end", 0, "last line")

	for _, cmd := range []*cobra.Command{
		reportCmd, summaryCmd, pendingCmd, issuesCmd, contextCmd, readCmd, searchCmd,
	} {
		cmd.Flags().String("session", "", "session id (not needed when ARV_BASE is session-scoped)")
	}

	rootCmd.AddCommand(reportCmd, summaryCmd, opinionCmd, respondCmd, statusCmd,
		dismissCmd, pendingCmd, issuesCmd, threadCmd, contextCmd, readCmd, searchCmd)
}
