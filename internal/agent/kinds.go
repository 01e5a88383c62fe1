package agent

func init() {
	register(&claudeTrigger{})
	register(&codexTrigger{})
	register(&geminiTrigger{})
	register(&opencodeTrigger{})
	register(&mockTrigger{})
}

// claudeTrigger drives the Claude Code CLI in non-interactive print mode.
// The reviewer reports through the session API with curl, so only the Bash
// curl scope and the Read tool are allowed.
type claudeTrigger struct{}

func (t *claudeTrigger) Kind() string { return "claude" }

func (t *claudeTrigger) Available(cliPath string) bool {
	return binaryAvailable(cliPath, "claude")
}

func (t *claudeTrigger) Build(spec *TriggerSpec) *CommandPlan {
	args := []string{
		"--print",
		"--output-format", "text",
		"--allowedTools", `Bash(curl:*) Read`,
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	args = append(args, "-p", spec.Prompt)
	return &CommandPlan{Path: resolveBinary(spec.CLIPath, "claude"), Args: args}
}

// codexTrigger drives the Codex CLI in one-shot exec mode.
type codexTrigger struct{}

func (t *codexTrigger) Kind() string { return "codex" }

func (t *codexTrigger) Available(cliPath string) bool {
	return binaryAvailable(cliPath, "codex")
}

func (t *codexTrigger) Build(spec *TriggerSpec) *CommandPlan {
	args := []string{"exec", "--full-auto"}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	args = append(args, spec.Prompt)
	return &CommandPlan{Path: resolveBinary(spec.CLIPath, "codex"), Args: args}
}

// geminiTrigger drives the Gemini CLI. The prompt goes through stdin.
type geminiTrigger struct{}

func (t *geminiTrigger) Kind() string { return "gemini" }

func (t *geminiTrigger) Available(cliPath string) bool {
	return binaryAvailable(cliPath, "gemini")
}

func (t *geminiTrigger) Build(spec *TriggerSpec) *CommandPlan {
	args := []string{"-p", "--output-format", "text", "--yolo"}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	return &CommandPlan{
		Path:  resolveBinary(spec.CLIPath, "gemini"),
		Args:  args,
		Stdin: spec.Prompt,
	}
}

// opencodeTrigger drives the OpenCode CLI in run mode.
type opencodeTrigger struct{}

func (t *opencodeTrigger) Kind() string { return "opencode" }

func (t *opencodeTrigger) Available(cliPath string) bool {
	return binaryAvailable(cliPath, "opencode")
}

func (t *opencodeTrigger) Build(spec *TriggerSpec) *CommandPlan {
	args := []string{"run"}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	args = append(args, spec.Prompt)
	return &CommandPlan{Path: resolveBinary(spec.CLIPath, "opencode"), Args: args}
}

// mockTrigger runs an arbitrary executable with the prompt on stdin. Used
// by tests and local development without a real reviewer CLI.
type mockTrigger struct{}

func (t *mockTrigger) Kind() string { return "mock" }

func (t *mockTrigger) Available(cliPath string) bool {
	return binaryAvailable(cliPath, "true")
}

func (t *mockTrigger) Build(spec *TriggerSpec) *CommandPlan {
	return &CommandPlan{
		Path:  resolveBinary(spec.CLIPath, "true"),
		Stdin: spec.Prompt,
	}
}
